package flow

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// Extractors return loosely typed JSON values. These helpers coerce them in place so the
// step handlers can rely on one representation per key.

// normalizeAmount turns strings like "5 lakh" into rupees and reads small numbers as lakh.
func normalizeAmount(d models.Data, key models.DataKey) {
	switch v := d[key].(type) {
	case string:
		if amount, ok := parseAmount(v, true); ok {
			d[key] = amount
		} else {
			delete(d, key)
		}
	case float64, int, int64:
		amount := d.Float(key)
		if amount > 0 && amount < 100 {
			amount *= lakh
		}
		if amount <= 0 {
			delete(d, key)
			return
		}
		d[key] = amount
	}
}

func normalizeInt(d models.Data, key models.DataKey) {
	switch v := d[key].(type) {
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			d[key] = n
		} else if y, ok := parseYear(v); ok && key == models.DataKeyYear {
			d[key] = y
		} else {
			delete(d, key)
		}
	case float64:
		d[key] = int(v)
	case int64:
		d[key] = int(v)
	}
}

func normalizePhone(d models.Data, key models.DataKey) {
	if !d.Has(key) {
		return
	}
	if phone, ok := parsePhone(d.String(key)); ok {
		d[key] = phone
		return
	}
	delete(d, key)
}

func normalizeBool(d models.Data, key models.DataKey) {
	v, ok := d[key].(string)
	if !ok {
		return
	}
	if b, ok := parseYesNo(v); ok {
		d[key] = b
		return
	}
	delete(d, key)
}

func normalizeText(d models.Data, key models.DataKey, minLen int) {
	v, ok := d[key].(string)
	if !ok {
		return
	}
	v = strings.TrimSpace(v)
	if len([]rune(v)) < minLen {
		delete(d, key)
		return
	}
	d[key] = v
}
