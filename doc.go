// Package containerobjects turns plain Go values into live Docker containers
// for integration tests.
//
// A container object type is described once with a Definition. The Manager
// walks each instance through an eight stage lifecycle: the image is pulled
// or built, the container is created and started, and on Destroy it is
// stopped and removed and the image released. Hooks run before and after each
// step, extensions inject values such as the container address into slots
// declared on the definition, and log receivers get the container output.
//
// Usage:
//
//	type Postgres struct {
//		Addr  string
//		ready containerobjects.Readiness
//	}
//
//	def := containerobjects.Define[Postgres]("Postgres").
//		RegistryImage("postgres:16").
//		Env("POSTGRES_PASSWORD", "secret").
//		Inject(containerobjects.Slot(containerobjects.CapContainerAddress,
//			func(p *Postgres, addr string) { p.Addr = addr }))
//
//	env, _ := containerobjects.NewEnvironment(ctx)
//	defer env.Close(ctx)
//
//	ref, err := containerobjects.Create(ctx, env.Manager(), def)
//	...
//	defer ref.Close(ctx)
package containerobjects
