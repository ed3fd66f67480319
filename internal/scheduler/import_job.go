package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/recommender/internal/modules/universe"
	"github.com/rs/zerolog"
)

// Importer loads the universe and price history from their sources
type Importer interface {
	Import(ctx context.Context, universeURI, pricesURI string) (*universe.ImportResult, error)
}

// ImportJob refreshes the universe and prices from configured sources
type ImportJob struct {
	log         zerolog.Logger
	importer    Importer
	universeURI string
	pricesURI   string
	timeout     time.Duration
}

// NewImportJob creates a new ImportJob
func NewImportJob(importer Importer, universeURI, pricesURI string) *ImportJob {
	return &ImportJob{
		log:         zerolog.Nop(),
		importer:    importer,
		universeURI: universeURI,
		pricesURI:   pricesURI,
		timeout:     10 * time.Minute,
	}
}

// SetLogger sets the logger for the job
func (j *ImportJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *ImportJob) Name() string {
	return "import_market_data"
}

// Run executes the import
func (j *ImportJob) Run() error {
	if j.universeURI == "" || j.pricesURI == "" {
		j.log.Debug().Msg("No data sources configured, skipping import")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	result, err := j.importer.Import(ctx, j.universeURI, j.pricesURI)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	j.log.Info().
		Int("securities", result.Securities).
		Int("price_rows", result.PriceRows).
		Dur("duration", time.Since(start)).
		Msg("Market data imported")
	return nil
}
