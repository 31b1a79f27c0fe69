package wire

import (
	"encoding/json"
	"fmt"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

// Structured trailers travel as JSON documents. The protocol only ever looks
// at their length; these helpers are the single place that knows the layout.

type serverListDoc struct {
	Servers cluster.ServerList `json:"servers"`
}

type tabletMapDoc struct {
	Tablets cluster.TabletMap `json:"tablets"`
}

func EncodeServerList(l cluster.ServerList) ([]byte, error) {
	if l == nil {
		l = cluster.ServerList{}
	}
	return json.Marshal(serverListDoc{Servers: l})
}

func DecodeServerList(data []byte) (cluster.ServerList, error) {
	var doc serverListDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode server list: %w", err)
	}
	return doc.Servers, nil
}

func EncodeTabletMap(m cluster.TabletMap) ([]byte, error) {
	if m == nil {
		m = cluster.TabletMap{}
	}
	return json.Marshal(tabletMapDoc{Tablets: m})
}

func DecodeTabletMap(data []byte) (cluster.TabletMap, error) {
	var doc tabletMapDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode tablet map: %w", err)
	}
	return doc.Tablets, nil
}
