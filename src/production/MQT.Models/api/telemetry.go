package api_models

// IngestResponse is returned by POST /ingest on success
type IngestResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// LatestResponse is the body of GET /latest. ID repeats the device id;
// temperature and humidity are reported under both the short and the long key.
type LatestResponse struct {
	ID          string  `json:"id"`
	DeviceID    string  `json:"deviceId"`
	Ts          string  `json:"ts"`
	Temp        float64 `json:"temp"`
	Hum         float64 `json:"hum"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Online      bool    `json:"online"`
}

// MetricPoint is one element of GET /metrics
type MetricPoint struct {
	Ts   string  `json:"ts"`
	Temp float64 `json:"temp"`
	Hum  float64 `json:"hum"`
}

// StatusResponse is the body of GET /status. UpdatedAt is null when the device has no readings.
type StatusResponse struct {
	ID        string  `json:"id"`
	Online    bool    `json:"online"`
	UpdatedAt *string `json:"updatedAt"`
}

// ErrorEntry is one element of GET /errors
type ErrorEntry struct {
	ID       string  `json:"id"`
	DeviceID *string `json:"deviceId"`
	Ts       string  `json:"ts"`
	Msg      string  `json:"msg"`
}
