package postgres

// Store bundles the read stores into one repo.ExecutionReader and exposes the
// intervention audit trail.
type Store struct {
	*ExecutionStore
	*StageStore
	*LogStore
	*AlertStore
	*InterventionStore
}

func NewStore(db DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{
		ExecutionStore:    NewExecutionStore(db),
		StageStore:        NewStageStore(db),
		LogStore:          NewLogStore(db),
		AlertStore:        NewAlertStore(db),
		InterventionStore: NewInterventionStore(db),
	}
}
