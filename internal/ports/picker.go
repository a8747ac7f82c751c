package ports

// PortPicker asks the operator to choose one of the detected device ports.
type PortPicker interface {
	PickPort(candidates []string) (string, error)
}

// SecretPrompter asks the operator for a secret without echoing it.
type SecretPrompter interface {
	PromptSecret(title string) (string, error)
}
