package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq/rabbitmqtest"
)

type fakeConsumer struct{ handler rabbitmq.Handler }

func (f *fakeConsumer) ConsumeMessage(ctx context.Context) { <-ctx.Done() }
func (f *fakeConsumer) SetHandler(h rabbitmq.Handler)      { f.handler = h }

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (f *fakeWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, p...)
	return nil
}

var t0 = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

func reading(field, sensor string, moisture float64, at time.Time) model.SensorData {
	return model.SensorData{FieldID: field, SensorID: sensor, Moisture: moisture, Humidity: 60, Temperature: 25,
		Aggregated: true, Samples: 6, Timestamp: at}
}

func TestHandleWritesAndCaches(t *testing.T) {
	cons := &fakeConsumer{}
	fw := &fakeWriter{}
	svc, err := NewService(Options{Consumer: cons, Writer: fw, Measurement: "soil reading"})
	require.NoError(t, err)

	send := func(sd model.SensorData) error {
		return cons.handler("", rabbitmqtest.NewMessage("sensor/aggregated/"+sd.FieldID+"/"+sd.SensorID, sd))
	}
	require.NoError(t, send(reading("field2", "sensor1", 50, t0)))
	require.NoError(t, send(reading("field1", "sensor2", 40, t0)))
	require.NoError(t, send(reading("field1", "sensor2", 45, t0.Add(time.Minute))))
	// late arrival does not replace the newer cached reading
	require.NoError(t, send(reading("field1", "sensor2", 10, t0.Add(-time.Minute))))
	require.NoError(t, cons.handler("", rabbitmqtest.NewMessage("sensor/aggregated/x/y", "{")))

	assert.Len(t, fw.points, 4)
	line := write.PointToLineProtocol(fw.points[0], time.Second)
	assert.Contains(t, line, "soil_reading,field_id=field2,sensor_id=sensor1")
	assert.Contains(t, line, "moisture=50")
	assert.Contains(t, line, "samples=6i")

	latest := svc.LatestCache()
	require.Len(t, latest, 2)
	assert.Equal(t, "field1", latest[0].FieldID)
	assert.Equal(t, 45.0, latest[0].Moisture)
	assert.Equal(t, "field2", latest[1].FieldID)
}

func TestHandleReportsWriteFailure(t *testing.T) {
	cons := &fakeConsumer{}
	svc, err := NewService(Options{Consumer: cons, Writer: &fakeWriter{err: errors.New("influx down")}})
	require.NoError(t, err)
	err = cons.handler("", rabbitmqtest.NewMessage("sensor/aggregated/f/s", model.SensorData{Moisture: 3}))
	assert.Error(t, err)
	// still cached, ids taken from the topic
	require.Len(t, svc.LatestCache(), 1)
	assert.Equal(t, "s", svc.LatestCache()[0].SensorID)
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestLatestFallsBackToCache(t *testing.T) {
	cons := &fakeConsumer{}
	svc, err := NewService(Options{Consumer: cons, Writer: &fakeWriter{}})
	require.NoError(t, err)
	require.NoError(t, cons.handler("", rabbitmqtest.NewMessage("sensor/aggregated/field1/sensor1", reading("field1", "sensor1", 33, t0))))

	rec := httptest.NewRecorder()
	NewRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data/latest", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cache", rec.Header().Get("X-Data-Source"))

	var out []Reading
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, Reading{FieldID: "field1", SensorID: "sensor1", Moisture: 33, Humidity: 60, Temperature: 25,
		Aggregated: true, Timestamp: "2025-07-01T08:00:00Z"}, out[0])
}

const latestCSV = `#datatype,string,long,dateTime:RFC3339,string,string,double,double,double,long
#group,false,false,false,false,false,false,false,false,false
#default,_result,,,,,,,,
,result,table,_time,field_id,sensor_id,moisture,humidity,temperature,samples
,,0,2025-07-01T08:00:00Z,field1,sensor1,41.5,58,26.1,6
,,0,2025-07-01T07:00:00Z,field1,sensor1,39,60,25,6

`

func TestLatestFromInflux(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(latestCSV))
	}))
	defer srv.Close()
	client := influxdb2.NewClient(srv.URL, "token")
	defer client.Close()

	svc, err := NewService(Options{Consumer: &fakeConsumer{}, Writer: &fakeWriter{}, Query: client.QueryAPI("org"), Bucket: "agri"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	NewRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data/latest?minutes=60", nil))
	assert.Equal(t, "influx", rec.Header().Get("X-Data-Source"))

	var out []Reading
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, 41.5, out[0].Moisture)
	assert.Equal(t, "2025-07-01T08:00:00Z", out[0].Timestamp)
}

func TestSanitizeMeasurement(t *testing.T) {
	assert.Equal(t, "soil_moisture_s-1", sanitizeMeasurement("soil moisture/s-1"))
}
