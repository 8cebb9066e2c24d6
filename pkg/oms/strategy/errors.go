package strategy

import (
	"fmt"

	"github.com/joripage/orderexec/pkg/oms/model"
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), model.ErrInvalidOrderParameters)
}
