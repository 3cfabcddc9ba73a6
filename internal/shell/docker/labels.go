package docker

// Labels attached to every container and built image managed by an
// environment.
const (
	LabelManaged = "org.containerobjects.managed"
	LabelSession = "org.containerobjects.session"
	LabelObject  = "org.containerobjects.object"

	ManagedLabelValue = "true"
)

// ManagedLabels returns the labels identifying resources of a session.
func ManagedLabels(session, object string) map[string]string {
	labels := map[string]string{
		LabelManaged: ManagedLabelValue,
		LabelSession: session,
	}
	if object != "" {
		labels[LabelObject] = object
	}
	return labels
}
