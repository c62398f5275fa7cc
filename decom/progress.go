package decom

// Progress receives human readable updates while a stage works through its
// instances
type Progress interface {
	Info(msg string)
	Warn(msg string)
}

type noProgress struct{}

func (noProgress) Info(string) {}
func (noProgress) Warn(string) {}
