package catalog

import "fmt"

// Standard returns a catalog carrying the bundled OCPP 1.6 and 2.0.1 action sets.
func Standard() (*Catalog, error) {
	c := New()
	bundles := []struct {
		subprotocol string
		schemas     map[string][2]string
	}{
		{OCPP16, ocpp16Schemas},
		{OCPP201, ocpp201Schemas},
	}
	for _, b := range bundles {
		set, err := c.AddVersion(b.subprotocol)
		if err != nil {
			return nil, err
		}
		for action, schemas := range b.schemas {
			if err := set.Add(action, schemas[0], schemas[1]); err != nil {
				return nil, fmt.Errorf("%s - %s: %w", logPrefix, b.subprotocol, err)
			}
		}
	}
	return c, nil
}

// MustStandard is Standard for package level initialisation and tests.
func MustStandard() *Catalog {
	c, err := Standard()
	if err != nil {
		panic(err)
	}
	return c
}
