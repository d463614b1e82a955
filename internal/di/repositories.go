package di

import (
	"fmt"

	"github.com/aristath/cryptofolio/internal/clientdata"
	"github.com/aristath/cryptofolio/internal/modules/prices"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories over the shared databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.PricesDB == nil || container.ClientDataDB == nil {
		return fmt.Errorf("databases must be initialized first")
	}

	container.ClientDataRepo = clientdata.NewRepository(container.ClientDataDB.Conn())
	container.PriceRepo = prices.NewRepository(container.PricesDB.Conn(), log)

	log.Debug().Msg("Repositories initialized")
	return nil
}
