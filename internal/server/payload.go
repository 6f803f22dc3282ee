package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/afroash/krishi-monitor/internal/recommend"
	"github.com/afroash/krishi-monitor/internal/weather"
)

const maxBodyBytes = 64 << 10

var (
	errInvalidJSON  = errors.New("request body is not valid JSON")
	errBodyTooLarge = fmt.Errorf("request body too large (limit %d bytes)", maxBodyBytes)
)

// jsonObject is a request body decoded one level deep. Fields are checked by
// JSON type individually, so a mistyped field never fails the request.
type jsonObject map[string]json.RawMessage

// decodeObject reads the request body. The body must be valid JSON. Anything
// other than a JSON object yields an empty object.
func decodeObject(w http.ResponseWriter, r *http.Request) (jsonObject, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if !json.Valid(body) {
		return nil, errInvalidJSON
	}

	var obj jsonObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return jsonObject{}, nil
	}
	return obj, nil
}

// Text returns def only when the field is missing. Any present value is
// rendered as text: strings verbatim, null as "null", numbers and booleans
// in their usual form, arrays comma-joined and objects as "[object Object]".
func (o jsonObject) Text(key, def string) string {
	raw, ok := o[key]
	if !ok {
		return def
	}
	return textOf(bytes.TrimSpace(raw), false)
}

func textOf(raw json.RawMessage, inArray bool) string {
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		_ = json.Unmarshal(raw, &s)
		return s
	case 'n':
		if inArray {
			return ""
		}
		return "null"
	case 't':
		return "true"
	case 'f':
		return "false"
	case '{':
		return "[object Object]"
	case '[':
		var elems []json.RawMessage
		_ = json.Unmarshal(raw, &elems)
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = textOf(bytes.TrimSpace(e), true)
		}
		return strings.Join(parts, ",")
	}
	if f, ok := parseNumber(raw); ok {
		return recommend.FormatNumber(f)
	}
	return string(raw)
}

// Number returns the field if it is a JSON number, nil otherwise. Numbers
// beyond the float64 range come back as ±Inf.
func (o jsonObject) Number(key string) *float64 {
	raw, ok := o.present(key)
	if !ok {
		return nil
	}
	f, ok := parseNumber(raw)
	if !ok {
		return nil
	}
	return &f
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

// present returns the raw field unless it is missing or null.
func (o jsonObject) present(key string) (json.RawMessage, bool) {
	raw, ok := o[key]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

func (o jsonObject) recommendationRequest(defaultCity, defaultCrop string) recommend.Request {
	return recommend.Request{
		City: o.Text("city", defaultCity),
		Crop: o.Text("crop", defaultCrop),
		Input: recommend.ReadingInput{
			SoilMoisture: o.Number("soilMoisture"),
			Temperature:  o.Number("temperature"),
			Humidity:     o.Number("humidity"),
		},
	}
}

// location drops a lone coordinate; both must be numbers to be used.
func (o jsonObject) location(defaultCity string) weather.Location {
	loc := weather.Location{City: o.Text("city", defaultCity)}
	lat, lon := o.Number("lat"), o.Number("lon")
	if lat != nil && lon != nil {
		loc.Lat, loc.Lon = lat, lon
	}
	return loc
}
