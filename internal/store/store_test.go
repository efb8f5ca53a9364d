package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryLog_HeaderOnce(t *testing.T) {
	dir := t.TempDir()
	log := NewSummaryLog(dir)

	start := time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(SummaryRow{
			RunID:          fmt.Sprintf("t_%d", i),
			StartTime:      start,
			EndTime:        start.Add(time.Second),
			ParametersPath: "p",
			OutputPath:     "o",
		}))
	}

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "experiment_name,start_time,end_time,parameters_path,output_path", lines[0])
	assert.Equal(t, "t_0,2024-01-02 03:04:05.123456,2024-01-02 03:04:06.123456,p,o", lines[1])

	rows, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "t_2", rows[2][0])
}

func TestSummaryLog_ConcurrentAppenders(t *testing.T) {
	dir := t.TempDir()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// separate instances, as two harnesses sharing a directory would have
			log := NewSummaryLog(dir)
			for i := 0; i < 25; i++ {
				assert.NoError(t, log.Append(SummaryRow{RunID: fmt.Sprintf("w%d_%d", w, i)}))
			}
		}(w)
	}
	wg.Wait()

	rows, err := NewSummaryLog(dir).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 100)
	for _, row := range rows {
		assert.Len(t, row, len(SummaryHeader))
		assert.NotEqual(t, "experiment_name", row[0], "header written twice")
	}
}

func TestSummaryLog_ReadMissing(t *testing.T) {
	rows, err := NewSummaryLog(t.TempDir()).ReadAll()
	assert.NoError(t, err)
	assert.Nil(t, rows)
}

func TestCreateRunDir(t *testing.T) {
	base := t.TempDir()

	path, err := CreateRunDir(base, "t_1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "t_1"), path)

	_, err = CreateRunDir(base, "t_1")
	assert.True(t, IsExist(err))
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", OutputFile)
	in := map[string]interface{}{"a": 1.0, "nested": map[string]interface{}{"b": "<c>"}}

	require.NoError(t, WriteJSONAtomic(path, in))

	var out map[string]interface{}
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")

	raw, _ := os.ReadFile(path)
	assert.Contains(t, string(raw), "<c>", "HTML escaping should be off")
}

func TestWriteJSONAtomic_Unserializable(t *testing.T) {
	path := filepath.Join(t.TempDir(), OutputFile)
	assert.Error(t, WriteJSONAtomic(path, map[string]interface{}{"ch": make(chan int)}))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
