package service

// Team is a selectable side inside a game space.
type Team struct {
	Key     string `json:"key" yaml:"key" validate:"required"`
	Display string `json:"display" yaml:"display"`
	Color   string `json:"color,omitempty" yaml:"color"`
	// MaxSize is the configured capacity; zero means unbounded.
	MaxSize int `json:"max_size,omitempty" yaml:"max_size" validate:"gte=0"`
}

func (t Team) Name() string {
	if t.Display != "" {
		return t.Display
	}
	return t.Key
}
