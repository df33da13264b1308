// Package dataset provides the static sample datasets the pipeline
// consumes. The catalog is the demo platform's dataset provider; records
// are immutable snapshots handed to the engine.
package dataset

import "sort"

// Record is a single row of sample data. All records within one dataset
// share the same field set.
type Record map[string]interface{}

// Dataset is a named collection of uniform sample records.
type Dataset struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Records     []Record `json:"records"`
}

// Fields returns the sorted field names of the dataset's records.
func (d *Dataset) Fields() []string {
	if len(d.Records) == 0 {
		return nil
	}
	fields := make([]string, 0, len(d.Records[0]))
	for k := range d.Records[0] {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Snapshot returns a deep copy of the dataset's records so executions
// never share mutable rows with the catalog or with each other.
func (d *Dataset) Snapshot() []Record {
	records := make([]Record, len(d.Records))
	for i, r := range d.Records {
		row := make(Record, len(r))
		for k, v := range r {
			row[k] = v
		}
		records[i] = row
	}
	return records
}

// Catalog holds the available datasets keyed by ID.
type Catalog struct {
	datasets map[string]*Dataset
	order    []string
}

// NewCatalog returns a catalog populated with the built-in sample datasets.
func NewCatalog() *Catalog {
	c := &Catalog{datasets: make(map[string]*Dataset)}
	for _, d := range builtinDatasets() {
		c.Add(d)
	}
	return c
}

// Add registers a dataset, replacing any existing dataset with the same ID.
func (c *Catalog) Add(d *Dataset) {
	if _, exists := c.datasets[d.ID]; !exists {
		c.order = append(c.order, d.ID)
	}
	c.datasets[d.ID] = d
}

// Get returns the dataset with the given ID.
func (c *Catalog) Get(id string) (*Dataset, bool) {
	d, ok := c.datasets[id]
	return d, ok
}

// List returns all datasets in registration order.
func (c *Catalog) List() []*Dataset {
	out := make([]*Dataset, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.datasets[id])
	}
	return out
}

func builtinDatasets() []*Dataset {
	return []*Dataset{
		{
			ID:          "sales-data",
			Name:        "Monthly Sales",
			Description: "Regional sales figures by product line",
			Records: []Record{
				{"region": "north", "product": "widgets", "units": 1240, "revenue": 18600.00},
				{"region": "north", "product": "gadgets", "units": 530, "revenue": 13250.00},
				{"region": "south", "product": "widgets", "units": 980, "revenue": 14700.00},
				{"region": "south", "product": "gadgets", "units": 720, "revenue": 18000.00},
				{"region": "east", "product": "widgets", "units": 1410, "revenue": 21150.00},
				{"region": "east", "product": "gadgets", "units": 305, "revenue": 7625.00},
				{"region": "west", "product": "widgets", "units": 860, "revenue": 12900.00},
				{"region": "west", "product": "gadgets", "units": 640, "revenue": 16000.00},
			},
		},
		{
			ID:          "user-analytics",
			Name:        "User Analytics",
			Description: "Daily active user metrics by platform",
			Records: []Record{
				{"date": "2025-06-01", "platform": "web", "sessions": 4820, "bounce_rate": 0.41},
				{"date": "2025-06-01", "platform": "mobile", "sessions": 7310, "bounce_rate": 0.36},
				{"date": "2025-06-02", "platform": "web", "sessions": 5105, "bounce_rate": 0.39},
				{"date": "2025-06-02", "platform": "mobile", "sessions": 6987, "bounce_rate": 0.37},
				{"date": "2025-06-03", "platform": "web", "sessions": 4433, "bounce_rate": 0.44},
				{"date": "2025-06-03", "platform": "mobile", "sessions": 7602, "bounce_rate": 0.33},
			},
		},
		{
			ID:          "inventory-metrics",
			Name:        "Inventory Metrics",
			Description: "Warehouse stock levels and turnover",
			Records: []Record{
				{"warehouse": "A", "sku": "W-100", "on_hand": 320, "turnover": 4.2},
				{"warehouse": "A", "sku": "G-200", "on_hand": 115, "turnover": 6.8},
				{"warehouse": "B", "sku": "W-100", "on_hand": 280, "turnover": 3.9},
				{"warehouse": "B", "sku": "G-200", "on_hand": 95, "turnover": 7.1},
			},
		},
	}
}
