// Package model defines shared data structures.
package model

import "time"

// Read speed bounds. The step is a UI affordance only.
const (
	MinReadSpeed     = 50
	MaxReadSpeed     = 800
	DefaultReadSpeed = 573
	ReadSpeedStep    = 5
)

// Fixed chart query parameters.
const (
	DefaultStyle                = "Single"
	DefaultDifficulty           = "Hard"
	DefaultSpeedChangeThreshold = 4
)

// Config defines resolved runtime settings.
type Config struct {
	ServerURL    string        `validate:"required,url"`
	ShareBaseURL string        `validate:"omitempty,url"`
	Timeout      time.Duration `validate:"gt=0"`
	RateLimit    float64       `validate:"gt=0"`
	Burst        int           `validate:"gte=1"`
	LogLevel     string        `validate:"oneof=debug info warn warning error"`
	LogFormat    string        `validate:"oneof=text json"`
	PlotHeight   int           `validate:"gte=4,lte=40"`
}

// SongRef identifies a selectable simfile.
type SongRef struct {
	Label string
	Value string
	// Extra holds catalog fields other than label and value, untouched.
	Extra map[string]any
}

// Selection is the canonical song/read-speed pair.
type Selection struct {
	Song      *SongRef
	ReadSpeed int
}

// InRange reports whether the read speed may be queried.
func (s Selection) InRange() bool {
	return ReadSpeedInRange(s.ReadSpeed)
}

// Ready reports whether a chart query can be built from the selection.
func (s Selection) Ready() bool {
	return s.Song != nil && s.InRange()
}

// SongLabel returns the selected label or an empty string.
func (s Selection) SongLabel() string {
	if s.Song == nil {
		return ""
	}
	return s.Song.Label
}

// Equal compares selections by song label and read speed.
func (s Selection) Equal(other Selection) bool {
	if (s.Song == nil) != (other.Song == nil) {
		return false
	}
	return s.SongLabel() == other.SongLabel() && s.ReadSpeed == other.ReadSpeed
}

// Clone returns a copy that shares no pointers with s.
func (s Selection) Clone() Selection {
	out := Selection{ReadSpeed: s.ReadSpeed}
	if s.Song != nil {
		song := *s.Song
		out.Song = &song
	}
	return out
}

// ReadSpeedInRange reports whether v is within [MinReadSpeed, MaxReadSpeed].
func ReadSpeedInRange(v int) bool {
	return v >= MinReadSpeed && v <= MaxReadSpeed
}

// ChartQuery is the parameter set of one chart request.
type ChartQuery struct {
	Song                 string
	ReadSpeed            int
	Style                string
	Difficulty           string
	SpeedChangeThreshold int
}

// NewChartQuery builds a query with the fixed style, difficulty and threshold.
func NewChartQuery(song string, readSpeed int) ChartQuery {
	return ChartQuery{
		Song:                 song,
		ReadSpeed:            readSpeed,
		Style:                DefaultStyle,
		Difficulty:           DefaultDifficulty,
		SpeedChangeThreshold: DefaultSpeedChangeThreshold,
	}
}

// ChartResult is the backend's answer for one chart query.
type ChartResult struct {
	NumberOfMeasures int
	Stops            []float64
	BPM              []float64
	// Raw is the complete result object for display.
	Raw map[string]any
}

// ChartData is the render-ready form of a ChartResult.
type ChartData struct {
	Labels []int
	Stops  []float64
	BPM    []float64
}

// Empty reports whether there is nothing to render.
func (d ChartData) Empty() bool {
	return len(d.Labels) == 0
}

// ShareLink is a recorded share link.
type ShareLink struct {
	ID        int64
	Link      string
	Song      string
	ReadSpeed int
	CreatedAt time.Time
}
