package models

// WatchlistEntry is one watched symbol.
type WatchlistEntry struct {
	Symbol  string `json:"symbol" validate:"required,ticker"`
	AddedAt string `json:"added_at"`
}
