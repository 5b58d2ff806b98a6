// Package ui defines the renderable fragments produced at the end of a turn.
// Fragments are data only; drawing them is the presentation layer's job.
package ui

import "github.com/coinchat/backend/internal/model/market"

// Kind discriminates Fragment payloads.
type Kind string

const (
	KindText            Kind = "text"
	KindHistoricalChart Kind = "historicalChart"
	KindPriceCard       Kind = "priceCard"
	KindOverview        Kind = "overview"
	KindNotFound        Kind = "notFound"
	KindError           Kind = "error"
)

// ErrorKind classifies turn failures shown to the user.
type ErrorKind string

const (
	ErrorState     ErrorKind = "state"
	ErrorBusy      ErrorKind = "busy"
	ErrorSchema    ErrorKind = "schema"
	ErrorProvider  ErrorKind = "provider"
	ErrorModel     ErrorKind = "model"
	ErrorCancelled ErrorKind = "cancelled"
	ErrorInternal  ErrorKind = "internal"
)

// Fragment is a tagged variant; exactly one payload field matches Kind.
type Fragment struct {
	Kind     Kind             `json:"kind"`
	Text     string           `json:"text,omitempty"`
	Chart    *HistoricalChart `json:"chart,omitempty"`
	Price    *PriceCard       `json:"price,omitempty"`
	Overview *market.Snapshot `json:"overview,omitempty"`
	NotFound *NotFound        `json:"notFound,omitempty"`
	Error    *Failure         `json:"error,omitempty"`
}

// HistoricalChart plots one primary series and optional overlays.
type HistoricalChart struct {
	Series           market.Series   `json:"series"`
	ComparisonSeries []market.Series `json:"comparisonSeries,omitempty"`
}

// PriceCard is the compact single-price rendering.
type PriceCard struct {
	Price  float64 `json:"price"`
	Symbol string  `json:"symbol"`
	Icon   string  `json:"icon,omitempty"`
}

// NotFound reports a coin identifier the provider did not recognise.
type NotFound struct {
	CoinID string `json:"coinId"`
}

// Failure is the user-visible rendering of a failed turn.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func Text(text string) Fragment {
	return Fragment{Kind: KindText, Text: text}
}

func Chart(series market.Series, comparison ...market.Series) Fragment {
	return Fragment{Kind: KindHistoricalChart, Chart: &HistoricalChart{
		Series:           series,
		ComparisonSeries: comparison,
	}}
}

func Price(price float64, symbol, icon string) Fragment {
	return Fragment{Kind: KindPriceCard, Price: &PriceCard{Price: price, Symbol: symbol, Icon: icon}}
}

func Overview(snapshot market.Snapshot) Fragment {
	return Fragment{Kind: KindOverview, Overview: &snapshot}
}

func CoinNotFound(coinID string) Fragment {
	return Fragment{Kind: KindNotFound, NotFound: &NotFound{CoinID: coinID}}
}

func Error(kind ErrorKind, message string) Fragment {
	return Fragment{Kind: KindError, Error: &Failure{Kind: kind, Message: message}}
}

// IsError reports whether the fragment renders a failure.
func (f Fragment) IsError() bool {
	return f.Kind == KindError
}
