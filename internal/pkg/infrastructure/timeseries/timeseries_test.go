package timeseries

import (
	"context"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestSeriesPathContainsDeviceSubtree(t *testing.T) {
	is := is.New(t)

	is.Equal(SeriesPath("iotflow", 42, "temperature"), "iotflow.devices.device_42.temperature")
}

func TestEscapeFieldNeutralizesSeparators(t *testing.T) {
	is := is.New(t)

	is.Equal(EscapeField("temp.outside"), "temp_outside")
	is.Equal(EscapeField(`a b,c=d"e'f`), "a_b_c_d_e_f")
	is.Equal(EscapeField("up/down\\left"), "up_down_left")
	is.Equal(EscapeField("plain_name"), "plain_name")
}

func TestEscapedFieldCannotEscapeSubtree(t *testing.T) {
	is := is.New(t)

	path := SeriesPath("iotflow", 7, "../../system.health")
	is.True(strings.HasPrefix(path, "iotflow.devices.device_7."))
	is.True(!strings.Contains(path, "/"))
}

func TestEnsureSeriesValidatesDatatype(t *testing.T) {
	is := is.New(t)
	s := &influxStore{root: "iotflow"}

	for _, dt := range []string{"bool", "int64", "double", "text"} {
		is.NoErr(s.EnsureSeries(context.Background(), 1, "telemetry", "f", dt))
	}

	err := s.EnsureSeries(context.Background(), 1, "telemetry", "f", "decimal")
	is.True(err != nil)
}
