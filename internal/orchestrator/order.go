package orchestrator

import (
	"fmt"
	"sort"

	"github.com/busimap/stackops/internal/models"
)

// StartOrder computes a topological start order over the declared
// services using Kahn's algorithm, so every service starts after all of
// its dependencies. Ties break by name to keep the order deterministic.
func StartOrder(services []models.ServiceDescriptor) ([]models.ServiceDescriptor, error) {
	byName := make(map[string]models.ServiceDescriptor, len(services))
	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))

	for _, svc := range services {
		byName[svc.Name] = svc
		inDegree[svc.Name] = 0
	}

	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if _, exists := byName[dep]; !exists {
				return nil, fmt.Errorf("service %s depends on unknown service %s", svc.Name, dep)
			}
			inDegree[svc.Name]++
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	queue := make([]string, 0, len(services))
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	ordered := make([]models.ServiceDescriptor, 0, len(services))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byName[current])

		next := make([]string, 0)
		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(ordered) != len(services) {
		return nil, fmt.Errorf("dependency cycle among services")
	}
	return ordered, nil
}
