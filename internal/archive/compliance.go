package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/magiconair/properties"
)

const (
	// ComplianceResource is where a mixin-aware application ships its descriptor.
	ComplianceResource = "META-INF/mixins/compliance.properties"
	// AccessProperty names the access adapter the host must supply.
	AccessProperty = "mixin-access-classname"
)

// ErrInvalidCompliance is returned for an unreadable or incomplete descriptor.
var ErrInvalidCompliance = errors.New("archive: invalid mixin compliance descriptor")

// Compliance is the parsed opt-in descriptor.
type Compliance struct {
	AdapterName string
	Properties  map[string]string
}

// LoadCompliance reads the compliance descriptor. found is false when the
// application does not ship one, which means it opts out of mixins.
func LoadCompliance(ctx context.Context, r Reader) (c Compliance, found bool, err error) {
	data, err := ReadResource(ctx, r, ComplianceResource)
	if errors.Is(err, fs.ErrNotExist) {
		return Compliance{}, false, nil
	}
	if err != nil {
		return Compliance{}, false, fmt.Errorf("read %s: %w", ComplianceResource, err)
	}
	c, err = ParseCompliance(data)
	if err != nil {
		return Compliance{}, true, err
	}
	return c, true, nil
}

// ParseCompliance parses descriptor bytes in Java properties syntax.
func ParseCompliance(data []byte) (Compliance, error) {
	p, err := properties.Load(data, properties.UTF8)
	if err != nil {
		return Compliance{}, fmt.Errorf("%w: %v", ErrInvalidCompliance, err)
	}
	name, ok := p.Get(AccessProperty)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Compliance{}, fmt.Errorf("%w: missing %s", ErrInvalidCompliance, AccessProperty)
	}
	return Compliance{AdapterName: name, Properties: p.Map()}, nil
}
