package weather

import (
	"errors"
	"math"

	"github.com/afroash/krishi-monitor/internal/models"
)

const (
	defaultDescription = "clear"
	currentLocation    = "Current Location"
)

var errMissingMain = errors.New("current response has no main block")

// currentResponse is the subset of /data/2.5/weather the dashboard uses.
type currentResponse struct {
	Name string `json:"name"`
	Main *struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Clouds *struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

func (r currentResponse) toWeatherData(requestedCity string) (models.WeatherData, error) {
	if r.Main == nil {
		return models.WeatherData{}, errMissingMain
	}

	data := models.WeatherData{
		Temperature: roundHalfUp(r.Main.Temp),
		Humidity:    roundHalfUp(r.Main.Humidity),
		Description: defaultDescription,
		City:        firstNonEmpty(r.Name, requestedCity, currentLocation),
	}
	if r.Clouds != nil {
		data.RainProbability = roundHalfUp(r.Clouds.All)
	}
	if len(r.Weather) > 0 && r.Weather[0].Description != "" {
		data.Description = r.Weather[0].Description
	}
	return data, nil
}

// forecastResponse is the subset of /data/2.5/forecast the chart uses.
type forecastResponse struct {
	City *struct {
		Name *string `json:"name"`
	} `json:"city"`
	List []forecastEntry `json:"list"`
}

type forecastEntry struct {
	Dt   int64 `json:"dt"`
	Main *struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
	Pop    *float64 `json:"pop"`
	Clouds *struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Weather []struct {
		Description *string `json:"description"`
	} `json:"weather"`
}

func (r forecastResponse) toForecast(requestedCity string) models.WeatherForecast {
	out := models.WeatherForecast{
		City:   requestedCity,
		Points: make([]models.ForecastPoint, 0, len(r.List)),
	}
	if r.City != nil && r.City.Name != nil {
		out.City = *r.City.Name
	}
	for _, e := range r.List {
		out.Points = append(out.Points, e.toPoint())
	}
	return out
}

func (e forecastEntry) toPoint() models.ForecastPoint {
	p := models.ForecastPoint{
		Time: e.Dt * 1000,
		Desc: defaultDescription,
	}
	if e.Main != nil && e.Main.Temp != nil {
		p.Temp = roundHalfUp(*e.Main.Temp)
	}
	switch {
	case e.Pop != nil:
		p.Rain = roundHalfUp(*e.Pop * 100)
	case e.Clouds != nil && e.Clouds.All != nil:
		p.Rain = roundHalfUp(*e.Clouds.All)
	}
	if len(e.Weather) > 0 && e.Weather[0].Description != nil {
		p.Desc = *e.Weather[0].Description
	}
	return p
}

// roundHalfUp rounds .5 towards positive infinity, so -2.5 becomes -2.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
