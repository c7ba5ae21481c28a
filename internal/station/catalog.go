package station

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Catalog is the fixed set of stations offered by the add dialog.
type Catalog struct {
	refs   []Reference
	byKey  map[string]Reference
	labels []string
}

// NewCatalog creates a catalog from refs. Later duplicates of a key are ignored.
func NewCatalog(refs []Reference) *Catalog {
	c := &Catalog{
		refs:  make([]Reference, 0, len(refs)),
		byKey: make(map[string]Reference, len(refs)),
	}
	for _, ref := range refs {
		if _, ok := c.byKey[ref.Key]; ok {
			continue
		}
		c.byKey[ref.Key] = ref
		c.refs = append(c.refs, ref)
		c.labels = append(c.labels, ref.Label)
	}
	return c
}

// DefaultCatalog returns the stations available out of the box.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Reference{
		{Key: "metros/1/bastille/A", Label: "Bastille, Direction La Défense"},
		{Key: "metros/1/bastille/R", Label: "Bastille, Direction Château de Vincennes"},
		{Key: "metros/1/chateletleshalles/A", Label: "Châtelet, Direction La Défense"},
		{Key: "metros/1/chateletleshalles/R", Label: "Châtelet, Direction Château de Vincennes"},
		{Key: "metros/4/montparnassebienvenue/A", Label: "Montparnasse Bienvenüe, Direction Porte de Clignancourt"},
		{Key: "metros/4/montparnassebienvenue/R", Label: "Montparnasse Bienvenüe, Direction Mairie de Montrouge"},
		{Key: "metros/6/bir+hakeim/A", Label: "Bir-Hakeim, Direction Charles de Gaulle Etoile"},
		{Key: "metros/6/bir+hakeim/R", Label: "Bir-Hakeim, Direction Nation"},
		{Key: "metros/9/republique/A", Label: "République, Direction Pont de Sèvres"},
		{Key: "metros/9/republique/R", Label: "République, Direction Mairie de Montreuil"},
		{Key: "metros/14/gare+de+lyon/A", Label: "Gare de Lyon, Direction Saint-Lazare"},
		{Key: "metros/14/gare+de+lyon/R", Label: "Gare de Lyon, Direction Olympiades"},
		{Key: "rers/a/chatelet+les+halles/A", Label: "Châtelet Les Halles, Direction Saint-Germain-en-Laye"},
		{Key: "rers/b/gare+du+nord/R", Label: "Gare du Nord, Direction Aéroport CDG"},
	})
}

// All returns every station in catalog order.
func (c *Catalog) All() []Reference {
	out := make([]Reference, len(c.refs))
	copy(out, c.refs)
	return out
}

// Lookup returns the station with the given key.
func (c *Catalog) Lookup(key string) (Reference, bool) {
	ref, ok := c.byKey[key]
	return ref, ok
}

// Search returns stations whose label fuzzily matches query, best first.
// An empty query returns the whole catalog.
func (c *Catalog) Search(query string) []Reference {
	query = strings.TrimSpace(query)
	if query == "" {
		return c.All()
	}

	matches := fuzzy.RankFindNormalizedFold(query, c.labels)

	// Lower distance is a closer match
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].OriginalIndex < matches[j].OriginalIndex
	})

	results := make([]Reference, 0, len(matches))
	for _, m := range matches {
		results = append(results, c.refs[m.OriginalIndex])
	}
	return results
}

// Contains returns stations whose label contains query, ignoring case, in
// catalog order.
func (c *Catalog) Contains(query string) []Reference {
	query = strings.TrimSpace(query)
	if query == "" {
		return c.All()
	}

	var results []Reference
	for i, label := range c.labels {
		if containsFold(label, query) {
			results = append(results, c.refs[i])
		}
	}
	return results
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
