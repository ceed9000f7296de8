package types

type StatusResponse struct {
	Online            bool   `json:"online"`
	HardwareAvailable bool   `json:"hardwareAvailable"`
	ReaderState       string `json:"readerState"`
	ServerTime        string `json:"serverTime"`
}
