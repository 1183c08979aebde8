package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		in      string
		want    cartLine
		wantErr bool
	}{
		{in: "milk", want: cartLine{ProductID: "milk", Quantity: 1}},
		{in: "milk:3", want: cartLine{ProductID: "milk", Quantity: 3}},
		{in: " cheese:1 ", want: cartLine{ProductID: "cheese", Quantity: 1}},
		{in: "milk:0", wantErr: true},
		{in: "milk:two", wantErr: true},
		{in: ":2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLine(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadRecords(t *testing.T) {
	csvIn := "url,name,category,brand,img,description,price\nhttps://s/milk,Milk,Dairy,,,,\"3,5 DT\"\n"
	records, err := readRecords(strings.NewReader(csvIn), formatCSV)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Milk", records[0].Name)
	assert.Equal(t, "https://s/milk", records[0].SourceURL)

	scraped := `[{"title":"Cheese","link":"https://s/cheese","price":12.9,"store":"monoprix"}]`
	records, err = readRecords(strings.NewReader(scraped), formatScraped)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "monoprix", records[0].Market)

	market := `[{"id":7,"name":"Bread","price":0.25,"seller":"bakery"}]`
	records, err = readRecords(strings.NewReader(market), formatMarketplace)
	require.NoError(t, err)
	assert.Equal(t, "mkt-7", records[0].ID)

	_, err = readRecords(strings.NewReader(""), "xml")
	assert.Error(t, err)

	assert.Equal(t, formatScraped, detectFormat("feed.JSON"))
	assert.Equal(t, formatCSV, detectFormat("export.csv"))
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "INDEX_BACKEND", "OPENROUTER_API_KEY", "EMBEDDING_PROVIDER", "EMBEDDING_DIMENSION", "CONFIG_PATH"} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := `database:
  driver: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "catalog.db") + `
    max_open_conns: 1
embedding:
  provider: mock
  dimension: 32
  rate_limit: 0
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))

	catalog := `url,name,category,brand,img,description,price
https://s/milk,Milk 1L,Dairy,Vitalait,,Whole milk,3.500 DT
https://s/cheese,Cheese 200g,Dairy,President,,Soft cheese,12.9
https://s/cheese-2,cheese 200g,Dairy,President,,Soft cheese,12.9
https://s/bread,Bread,Bakery,,,Baguette,0.25
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.csv"), []byte(catalog), 0o600))
	return cfgPath
}

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), strings.Join(args, " "))
	return out.Bytes()
}

func TestCLI_IngestRecommendAndPlan(t *testing.T) {
	cfgPath := writeTestConfig(t)
	csvPath := filepath.Join(filepath.Dir(cfgPath), "catalog.csv")

	var report domain.IngestReport
	require.NoError(t, json.Unmarshal(run(t, "-c", cfgPath, "--json", "ingest", csvPath), &report))
	assert.Equal(t, 3, report.Accepted)
	assert.Equal(t, 1, report.DuplicateCount)

	var list domain.RankedList
	require.NoError(t, json.Unmarshal(run(t, "-c", cfgPath, "--json", "recommend", "cheese", "--max-price", "20"), &list))
	require.NotEmpty(t, list.Items)
	var cheeseID string
	for _, c := range list.Items {
		assert.LessOrEqual(t, c.Product.Price, 20.0)
		if c.Product.Name == "Cheese 200g" {
			cheeseID = c.Product.ID
		}
	}
	require.NotEmpty(t, cheeseID, "catalog is rebuilt from the persisted store")

	var plan struct {
		Cart         domain.Cart               `json:"cart"`
		Optimization domain.OptimizationReport `json:"optimization"`
		Summary      domain.ShoppingSummary    `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(run(t, "-c", cfgPath, "--json", "cart", "plan", "--budget", "20", cheeseID+":2"), &plan))
	assert.Equal(t, 2, plan.Cart.Items[0].Quantity)
	assert.Equal(t, domain.BudgetOver, plan.Optimization.Status.Status)
	assert.True(t, plan.Optimization.NeedsOptimization)
	assert.Equal(t, 2, plan.Summary.TotalQuantity)
}

func TestCLI_Version(t *testing.T) {
	cfgPath := writeTestConfig(t)

	var v map[string]string
	require.NoError(t, json.Unmarshal(run(t, "-c", cfgPath, "--json", "version"), &v))
	assert.NotEmpty(t, v["version"])
}
