package memory

import "github.com/raphaelgruber/socialagent/internal/models"

// changeSet is an insertion-ordered map of dirty entities. Putting an
// existing key replaces the entity but keeps its original position.
type changeSet struct {
	keys     []string
	entities map[string]models.Entity
}

func newChangeSet() *changeSet {
	return &changeSet{entities: make(map[string]models.Entity)}
}

func (c *changeSet) put(key string, e models.Entity) {
	if _, ok := c.entities[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.entities[key] = e
}

func (c *changeSet) get(key string) models.Entity {
	return c.entities[key]
}

func (c *changeSet) len() int { return len(c.keys) }

// drain returns the staged entities in insertion order and resets the set.
func (c *changeSet) drain() []models.Entity {
	out := make([]models.Entity, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.entities[k])
	}
	c.keys = nil
	c.entities = make(map[string]models.Entity)
	return out
}
