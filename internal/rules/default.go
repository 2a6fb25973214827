package rules

// DefaultRules returns the full built-in corpus: every programmatic rule
// plus the embedded declarative corpus.
func DefaultRules() ([]Rule, error) {
	var all []Rule
	all = append(all, schedulingRules()...)
	all = append(all, imageRules()...)
	all = append(all, containerRules()...)
	all = append(all, probeRules()...)
	all = append(all, storageRules()...)
	all = append(all, nodeRules()...)
	all = append(all, networkingRules()...)
	all = append(all, admissionRules()...)
	all = append(all, ownerRules()...)
	all = append(all, compoundContainerRules()...)
	all = append(all, compoundStorageRules()...)

	declarative, err := EmbeddedDeclarativeRules()
	if err != nil {
		return nil, err
	}
	all = append(all, declarative...)
	return all, nil
}

// DefaultRegistry builds the registry over the built-in corpus.
func DefaultRegistry() (*Registry, error) {
	all, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	return NewRegistry(all)
}
