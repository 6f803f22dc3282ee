package models

// WeatherData is the current-conditions summary shown in the weather widget.
type WeatherData struct {
	Temperature     int    `json:"temperature"`
	Humidity        int    `json:"humidity"`
	RainProbability int    `json:"rainProbability"`
	Description     string `json:"description"`
	City            string `json:"city"`
}

// ForecastPoint is one 3-hour forecast step.
type ForecastPoint struct {
	Time int64  `json:"time"` // epoch ms
	Temp int    `json:"temp"` // Celsius
	Rain int    `json:"rain"` // % probability, or cloud cover when probability is missing
	Desc string `json:"desc"`
}

// WeatherForecast is the compact 5-day forecast used by the forecast chart.
type WeatherForecast struct {
	City   string          `json:"city"`
	Points []ForecastPoint `json:"points"`
}
