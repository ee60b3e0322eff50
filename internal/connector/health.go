package connector

// Status is the coarse health state of a listener.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Health is UP, or DOWN with a human readable reason.
type Health struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func Up() Health { return Health{Status: StatusUp} }

func Down(reason string) Health { return Health{Status: StatusDown, Reason: reason} }

func (h Health) IsUp() bool { return h.Status == StatusUp }

func (h Health) String() string {
	if h.Reason == "" {
		return string(h.Status)
	}
	return string(h.Status) + "(" + h.Reason + ")"
}
