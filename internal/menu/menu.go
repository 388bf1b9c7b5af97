// Package menu holds the extracted menu model and the analysis pipeline that
// produces it.
package menu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"translatemenu/internal/correlation"
)

// UnknownPrice is the wire sentinel for a dish without a legible price.
const UnknownPrice = "-"

// Price is either a number or unknown. It encodes as a JSON number or "-".
type Price struct {
	Amount float64
	Known  bool
}

func PriceOf(amount float64) Price { return Price{Amount: amount, Known: true} }

func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Known {
		return json.Marshal(UnknownPrice)
	}
	return json.Marshal(p.Amount)
}

func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = Price{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" || s == UnknownPrice {
			*p = Price{}
			return nil
		}
		// Models occasionally quote numbers.
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("price %q: want a number or %q", s, UnknownPrice)
		}
		*p = PriceOf(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("price: %w", err)
	}
	*p = PriceOf(f)
	return nil
}

type Dish struct {
	Name        string `json:"name"`
	Price       Price  `json:"price"`
	Description string `json:"description"`
	Recommended bool   `json:"recommended"`
	// English fields only feed the image prompt.
	TitleEnglish       string          `json:"titleEnglish,omitempty"`
	DescriptionEnglish string          `json:"descriptionEnglish,omitempty"`
	Image              *correlation.ID `json:"image,omitempty"`
}

// Eligible reports whether the dish has enough material for an image job.
func (d Dish) Eligible() bool {
	return strings.TrimSpace(d.Name) != "" && strings.TrimSpace(d.Description) != ""
}

// PromptMaterial prefers the English fields and falls back to the localised ones.
func (d Dish) PromptMaterial() (name, description string) {
	name = strings.TrimSpace(d.TitleEnglish)
	if name == "" {
		name = strings.TrimSpace(d.Name)
	}
	description = strings.TrimSpace(d.DescriptionEnglish)
	if description == "" {
		description = strings.TrimSpace(d.Description)
	}
	return name, description
}

type Menu struct {
	IsMenu bool   `json:"isMenu"`
	Items  []Dish `json:"menuItems"`
}

// NotAMenu is the response for images the model does not recognise as a menu.
func NotAMenu() Menu {
	return Menu{IsMenu: false, Items: []Dish{}}
}
