package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/logger"
)

// dateLayouts are tried in order.
var dateLayouts = []string{"2006-01-02", "02/01/2006"}

// parseResponse decodes the model's text into line items. The payload may be
// an object with a "transactions" array or a bare array. Items with unusable
// fields are skipped with a warning.
func parseResponse(ctx context.Context, raw string) ([]domain.LineItem, error) {
	clean := cleanModelJSON(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()

	var parsed interface{}
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parseResponse: %w: unmarshal JSON: %v", domain.ErrContent, err)
	}

	var txSlice []interface{}
	switch v := parsed.(type) {
	case []interface{}:
		txSlice = v
	case map[string]interface{}:
		txAny, ok := v["transactions"]
		if !ok {
			return nil, fmt.Errorf("parseResponse: %w: missing 'transactions' key in model output", domain.ErrContent)
		}
		txSlice, ok = txAny.([]interface{})
		if !ok {
			return nil, fmt.Errorf("parseResponse: %w: 'transactions' is %T, want array", domain.ErrContent, txAny)
		}
	default:
		return nil, fmt.Errorf("parseResponse: %w: top-level JSON is %T", domain.ErrContent, parsed)
	}

	log := logger.FromContext(ctx)
	items := make([]domain.LineItem, 0, len(txSlice))
	for i, el := range txSlice {
		obj, ok := el.(map[string]interface{})
		if !ok {
			log.Warn().Int("index", i).Msgf("Skipping transaction: element is %T", el)
			continue
		}

		item, err := toLineItem(obj)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Skipping transaction")
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

func toLineItem(obj map[string]interface{}) (domain.LineItem, error) {
	dateStr, err := getStringField(obj, "date", true)
	if err != nil {
		return domain.LineItem{}, err
	}
	desc, err := getStringField(obj, "description", true)
	if err != nil {
		return domain.LineItem{}, err
	}
	category, err := getStringField(obj, "category", false)
	if err != nil {
		return domain.LineItem{}, err
	}
	amount, err := getDecimalField(obj, "amount")
	if err != nil {
		return domain.LineItem{}, err
	}
	date, err := parseDate(dateStr)
	if err != nil {
		return domain.LineItem{}, err
	}

	return domain.LineItem{
		Date:        date,
		Description: strings.TrimSpace(desc),
		Amount:      amount,
		Category:    strings.TrimSpace(category),
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost JSON value if there is junk around it.
	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}
	closer := "]"
	if s[start] == '{' {
		closer = "}"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = s[start : end+1]
	}

	return strings.TrimSpace(s)
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getDecimalField(m map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Decimal{}, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(val), ",", ""))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
