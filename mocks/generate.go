package mocks

//go:generate mockgen -destination=./mock_strategy.go -package=mocks github.com/rxtech-lab/argo-papertrade/internal/strategy Strategy
//go:generate mockgen -destination=./mock_sink.go -package=mocks github.com/rxtech-lab/argo-papertrade/internal/engine Sink
//go:generate mockgen -destination=./mock_clock.go -package=mocks github.com/rxtech-lab/argo-papertrade/internal/engine Clock
//go:generate mockgen -destination=./mock_feed.go -package=mocks github.com/rxtech-lab/argo-papertrade/internal/feed Feed
//go:generate mockgen -destination=./mock_lot_size.go -package=mocks github.com/rxtech-lab/argo-papertrade/internal/oms LotSizeLookup
