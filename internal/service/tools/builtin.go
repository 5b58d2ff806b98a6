package tools

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/coinchat/backend/internal/model/market"
	"github.com/coinchat/backend/internal/model/ui"
)

const (
	defaultChartDays = 7
	compareDays      = 7
)

// Builtin returns the market tools offered to the model.
func Builtin() []Descriptor {
	minDays := 1.0
	return []Descriptor{
		{
			ID:          HistoricalChart,
			Name:        HistoricalChart.String(),
			Description: "view historical chart for a given coin",
			Params: []Param{
				{Name: "coinId", Type: TypeString, Description: "coingecko id of the coin, e.g. bitcoin", Required: true},
				{Name: "days", Type: TypeInteger, Description: "number of days to display", Default: defaultChartDays, Minimum: &minDays},
			},
			Handler: historicalChart,
			Summary: func(inv Invocation) string {
				return fmt.Sprintf("The historical chart for %s is currently displayed on the screen", inv.String("coinId"))
			},
		},
		{
			ID:          ComparePrices,
			Name:        ComparePrices.String(),
			Description: "compare prices of two coins",
			Params: []Param{
				{Name: "coinId1", Type: TypeString, Description: "coingecko id of the first coin", Required: true},
				{Name: "coinId2", Type: TypeString, Description: "coingecko id of the second coin", Required: true},
			},
			Handler: comparePrices,
			Summary: func(inv Invocation) string {
				return fmt.Sprintf("The price comparison of %s and %s is currently displayed on the screen", inv.String("coinId1"), inv.String("coinId2"))
			},
		},
		{
			ID:          GetPrice,
			Name:        GetPrice.String(),
			Description: "get the price of a coin",
			Params: []Param{
				{Name: "coinId", Type: TypeString, Description: "coingecko id of the coin", Required: true},
			},
			Handler: getPrice,
			Summary: func(inv Invocation) string {
				return fmt.Sprintf("The price of %s is currently displayed on the screen", inv.String("coinId"))
			},
		},
		{
			ID:          Overview,
			Name:        Overview.String(),
			Description: "get an overview of a coin",
			Params: []Param{
				{Name: "coinId", Type: TypeString, Description: "coingecko id of the coin", Required: true},
			},
			Handler: overview,
			Summary: func(inv Invocation) string {
				return fmt.Sprintf("The overview of %s is currently displayed on the screen", inv.String("coinId"))
			},
		},
	}
}

func historicalChart(ctx context.Context, env Env, inv Invocation) (ui.Fragment, error) {
	series, err := env.Gateway.GetHistoricalSeries(ctx, inv.String("coinId"), env.Currency, inv.Int("days"))
	if err != nil {
		return ui.Fragment{}, err
	}
	return ui.Chart(series), nil
}

func comparePrices(ctx context.Context, env Env, inv Invocation) (ui.Fragment, error) {
	var first, second market.Series

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		first, err = env.Gateway.GetHistoricalSeries(gctx, inv.String("coinId1"), env.Currency, compareDays)
		return err
	})
	g.Go(func() error {
		var err error
		second, err = env.Gateway.GetHistoricalSeries(gctx, inv.String("coinId2"), env.Currency, compareDays)
		return err
	})
	if err := g.Wait(); err != nil {
		return ui.Fragment{}, err
	}

	return ui.Chart(first, second), nil
}

func getPrice(ctx context.Context, env Env, inv Invocation) (ui.Fragment, error) {
	coinID := inv.String("coinId")
	snapshot, ok, err := lookupSnapshot(ctx, env, coinID)
	if err != nil {
		return ui.Fragment{}, err
	}
	if !ok {
		return ui.CoinNotFound(coinID), nil
	}
	return ui.Price(snapshot.CurrentPrice, coinID, snapshot.ImageURL), nil
}

func overview(ctx context.Context, env Env, inv Invocation) (ui.Fragment, error) {
	coinID := inv.String("coinId")
	snapshot, ok, err := lookupSnapshot(ctx, env, coinID)
	if err != nil {
		return ui.Fragment{}, err
	}
	if !ok {
		return ui.CoinNotFound(coinID), nil
	}
	return ui.Overview(snapshot), nil
}

// lookupSnapshot returns the entry whose id is exactly coinID. Any other entry
// belongs to a different coin and is ignored.
func lookupSnapshot(ctx context.Context, env Env, coinID string) (market.Snapshot, bool, error) {
	snapshots, err := env.Gateway.GetSnapshot(ctx, []string{coinID}, env.Currency)
	if err != nil {
		return market.Snapshot{}, false, err
	}
	for _, snapshot := range snapshots {
		if snapshot.ID == coinID {
			return snapshot, true, nil
		}
	}
	return market.Snapshot{}, false, nil
}
