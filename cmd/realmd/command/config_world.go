package command

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-realm/internal/area"
)

type WorldConfig struct {
	ViewSize int           `json:"view_size"`
	Bounds   *BoundsConfig `json:"bounds"`
}

type BoundsConfig struct {
	MinX int `json:"min_x"`
	MaxX int `json:"max_x"`
	MinY int `json:"min_y"`
	MaxY int `json:"max_y"`
}

func (c *WorldConfig) validate() error {
	el := errors.NewErrorList()

	if c.ViewSize < 1 {
		el.Add(fmt.Errorf("view_size is required"))
	} else if c.ViewSize%2 == 0 {
		el.Add(fmt.Errorf("view_size must be odd"))
	}

	if c.Bounds != nil {
		if c.Bounds.MaxX < c.Bounds.MinX {
			el.Add(fmt.Errorf("bounds: max_x must be at least min_x"))
		}
		if c.Bounds.MaxY < c.Bounds.MinY {
			el.Add(fmt.Errorf("bounds: max_y must be at least min_y"))
		}
	}

	return el.Err()
}

func (c *WorldConfig) buildBounds() area.Bounds {
	if c.Bounds == nil {
		return area.DefaultBounds
	}
	return area.Bounds{
		MinX: c.Bounds.MinX,
		MaxX: c.Bounds.MaxX,
		MinY: c.Bounds.MinY,
		MaxY: c.Bounds.MaxY,
	}
}
