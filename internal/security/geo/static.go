package geo

import "context"

// StaticResolver serves a fixed IP-to-location table. Used in tests and
// available as the "static"/"none" resolver mode where outbound lookups
// are not wanted.
type StaticResolver struct {
	table map[string]Location
}

func NewStaticResolver(table map[string]Location) *StaticResolver {
	if table == nil {
		table = make(map[string]Location)
	}
	return &StaticResolver{table: table}
}

func (r *StaticResolver) Resolve(_ context.Context, ip string) (Location, error) {
	return r.table[ip], nil
}
