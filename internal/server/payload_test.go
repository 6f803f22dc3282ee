package server

import (
	"errors"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeBody(t *testing.T, body string) jsonObject {
	t.Helper()
	r := httptest.NewRequest("POST", "/", strings.NewReader(body))
	obj, err := decodeObject(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("decodeObject(%q) error: %v", body, err)
	}
	return obj
}

func TestDecodeObject_InvalidJSON(t *testing.T) {
	for _, body := range []string{"", "{", "not json", `{"city": }`} {
		r := httptest.NewRequest("POST", "/", strings.NewReader(body))
		if _, err := decodeObject(httptest.NewRecorder(), r); !errors.Is(err, errInvalidJSON) {
			t.Errorf("decodeObject(%q) error = %v, want errInvalidJSON", body, err)
		}
	}
}

func TestDecodeObject_NonObjectMeansDefaults(t *testing.T) {
	for _, body := range []string{"null", "[]", "42", `"Pune"`, "true"} {
		obj := decodeBody(t, body)
		req := obj.recommendationRequest("Mumbai", "wheat")
		if req.City != "Mumbai" || req.Crop != "wheat" {
			t.Errorf("body %s: city/crop = %s/%s, want defaults", body, req.City, req.Crop)
		}
		if req.Input.SoilMoisture != nil || req.Input.Temperature != nil || req.Input.Humidity != nil {
			t.Errorf("body %s: expected no supplied values", body)
		}
	}
}

func TestDecodeObject_BodyTooLarge(t *testing.T) {
	body := `{"crop":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	r := httptest.NewRequest("POST", "/", strings.NewReader(body))
	if _, err := decodeObject(httptest.NewRecorder(), r); !errors.Is(err, errBodyTooLarge) {
		t.Errorf("decodeObject error = %v, want errBodyTooLarge", err)
	}
}

func TestJSONObject_Text(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string", `{"crop":"rice"}`, "rice"},
		{"missing", `{}`, "wheat"},
		{"empty string kept", `{"crop":""}`, ""},
		{"null", `{"crop":null}`, "null"},
		{"integer", `{"crop":7}`, "7"},
		{"float", `{"crop":2.50}`, "2.5"},
		{"negative zero", `{"crop":-0}`, "0"},
		{"huge", `{"crop":1e21}`, "1e+21"},
		{"bool", `{"crop":false}`, "false"},
		{"array", `{"crop":["rice",1,null,[2,3]]}`, "rice,1,,2,3"},
		{"object", `{"crop":{"name":"rice"}}`, "[object Object]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeBody(t, tt.body).Text("crop", "wheat"); got != tt.want {
				t.Errorf("Text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONObject_Number(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *float64
	}{
		{"integer", `{"v":25}`, ptr(25)},
		{"float", `{"v":25.5}`, ptr(25.5)},
		{"zero", `{"v":0}`, ptr(0)},
		{"negative", `{"v":-3}`, ptr(-3)},
		{"out of range kept", `{"v":150}`, ptr(150)},
		{"overflow", `{"v":1e400}`, ptr(math.Inf(1))},
		{"negative overflow", `{"v":-1e400}`, ptr(math.Inf(-1))},
		{"underflow", `{"v":1e-400}`, ptr(0)},
		{"string", `{"v":"25"}`, nil},
		{"null", `{"v":null}`, nil},
		{"bool", `{"v":true}`, nil},
		{"missing", `{}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeBody(t, tt.body).Number("v")
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("Number = %v, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("Number = nil, want %v", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("Number = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func TestJSONObject_Location(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantCity   string
		wantCoords bool
	}{
		{"city only", `{"city":"Pune"}`, "Pune", false},
		{"defaults", `{}`, "Mumbai", false},
		{"coords", `{"lat":18.52,"lon":73.85}`, "Mumbai", true},
		{"lone lat", `{"lat":18.52}`, "Mumbai", false},
		{"string coords", `{"lat":"18.52","lon":"73.85"}`, "Mumbai", false},
		{"city and coords", `{"city":"Pune","lat":0,"lon":0}`, "Pune", true},
		{"empty city kept", `{"city":""}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := decodeBody(t, tt.body).location("Mumbai")
			if loc.City != tt.wantCity {
				t.Errorf("City = %q, want %q", loc.City, tt.wantCity)
			}
			if loc.HasCoords() != tt.wantCoords {
				t.Errorf("HasCoords = %v, want %v", loc.HasCoords(), tt.wantCoords)
			}
		})
	}
}

func ptr(v float64) *float64 { return &v }
