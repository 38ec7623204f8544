package pub

import (
	"errors"
	"fmt"
)

// Coordinate addresses one logical consumer position on the service:
// a subscription of a topic owned by an organization.
type Coordinate struct {
	Organization string `env:"ORGANIZATION" envDefault:"org"`
	Topic        string `env:"TOPIC" envDefault:"topic"`
	Subscription string `env:"SUBSCRIPTION" envDefault:"sub"`
}

// Validate reports whether every part of the coordinate is set.
func (c Coordinate) Validate() error {
	var errs []error
	if c.Organization == "" {
		errs = append(errs, errors.New("organization is required"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("topic is required"))
	}
	if c.Subscription == "" {
		errs = append(errs, errors.New("subscription is required"))
	}

	return errors.Join(errs...)
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Organization, c.Topic, c.Subscription)
}
