package domain

import "time"

// TransferProgress is a snapshot of one module transfer. It is recreated for
// every module and owned by the goroutine running the transfer.
type TransferProgress struct {
	ModuleID        string
	FileName        string
	BytesDownloaded int64
	TotalBytes      int64
	Speed           float64 // smoothed bytes per second
	ETA             time.Duration
	Status          string
}

// Fraction returns completed/total in [0,1], or 0 while total is unknown.
func (p TransferProgress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	f := float64(p.BytesDownloaded) / float64(p.TotalBytes)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// DetailedProgress is the formatted snapshot published on the detailed channel.
type DetailedProgress struct {
	Percent    int          `json:"percent"`
	State      InstallState `json:"state"`
	Speed      string       `json:"speed"`
	ETA        string       `json:"eta"`
	Size       string       `json:"size"`
	FileName   string       `json:"file_name"`
	ModuleName string       `json:"module_name"`
	Status     string       `json:"status"`
}
