package modeswitch

// State is a phase of the mode-switch state machine (spec §4.11):
//
//	Idle -> ValidatingConfig -> Preparing -> Snapshotting -> Migrating ->
//	Verifying -> Committing -> {Done | Failed | RolledBack}
type State int

const (
	StateIdle State = iota
	StateValidatingConfig
	StatePreparing
	StateSnapshotting
	StateMigrating
	StateVerifying
	StateCommitting
	StateDone
	StateFailed
	StateRolledBack
	// StateRollbackFailed is entered when rollback itself fails; the engine
	// then requires external intervention (spec §4.11 "Rollback").
	StateRollbackFailed
)

func (s State) String() string {
	names := [...]string{
		"Idle", "ValidatingConfig", "Preparing", "Snapshotting", "Migrating",
		"Verifying", "Committing", "Done", "Failed", "RolledBack", "RollbackFailed",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Mode names which backing a TargetConfig describes.
type Mode int

const (
	ModePersistent Mode = iota
	ModeUltra
)

// TargetConfig describes the backing the coordinator should migrate to.
type TargetConfig struct {
	Mode Mode
	// Dir is required when Mode is ModePersistent.
	Dir string
	// UltraMaxBytes is required when Mode is ModeUltra; must be at least
	// 1 MiB (spec §4.11 point 1).
	UltraMaxBytes int64
	// AutosaveMS is informational for validation only: nonzero alongside
	// ModeUltra is a non-fatal warning (spec §4.11 point 1), since ultra
	// mode has nothing to autosave.
	AutosaveMS int64
}
