package structs

// OldNew describes one configuration value that changed on reload.
type OldNew struct {
	ParentPath string
	Name       string
	Old        any
	New        any
}

type ChangeListener interface {
	OnConfigChange(OldNew) error
}
