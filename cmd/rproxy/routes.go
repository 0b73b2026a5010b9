package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/rproxy/core/logger"
	"github.com/dmitrymomot/rproxy/core/proxy"
)

var errNoRoutes = errors.New("routes file defines no routes")

// routesFile is the YAML route definitions document:
//
//	routes:
//	  - from: example.com
//	    to: [http://127.0.0.1:3000, http://127.0.0.1:3001]
//	    ssl:
//	      letsencrypt:
//	        email: ops@example.com
//	  - from: example.com/api
//	    to: [http://127.0.0.1:4000]
//	    useTargetHostHeader: true
type routesFile struct {
	Routes []routeDef `yaml:"routes"`
}

type routeDef struct {
	From               string   `yaml:"from"`
	To                 []string `yaml:"to"`
	proxy.RouteOptions `yaml:",inline"`
}

func loadRoutes(path string) ([]routeDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return parseRoutes(data)
}

func parseRoutes(data []byte) ([]routeDef, error) {
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	if len(f.Routes) == 0 {
		return nil, errNoRoutes
	}
	return f.Routes, nil
}

// applyRoutes registers every definition. A rejected route is logged and
// skipped; the count of registered routes is returned.
func applyRoutes(p *proxy.Server, routes []routeDef, log *slog.Logger) int {
	n := 0
	for _, r := range routes {
		if err := p.AddRoute(r.From, r.To, r.RouteOptions); err != nil {
			log.Error("route rejected", slog.String("from", r.From), logger.Error(err))
			continue
		}
		n++
	}
	return n
}
