package courier

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func TestReadRecordsReordersColumns(t *testing.T) {
	src := "price,etd,courier_code,service_code,origin_code,destination_code,weight_kg,extra\n" +
		"12000,2-3,jne,reg,JKT,BDG,1,x\n" +
		"9000,1\n"
	records, err := ReadRecords(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, Record{"jne", "reg", "JKT", "BDG", "1", "12000", "2-3"}, records[0])
	require.Nil(t, records[1])
}

func TestReadRecordsHeader(t *testing.T) {
	_, err := ReadRecords(strings.NewReader(""))
	require.ErrorIs(t, err, ErrHeader)

	_, err = ReadRecords(strings.NewReader("courier_code,price\nJNE,1\n"))
	require.ErrorIs(t, err, ErrHeader)
	require.True(t, errors.Is(err, shared.ErrValidation))
}

func TestParseRecord(t *testing.T) {
	rate, err := ParseRecord(Record{"jne", "reg", "JKT", "BDG", "1.5", "12000.456", "2-3"})
	require.NoError(t, err)
	require.Equal(t, "JNE", rate.CourierCode)
	require.Equal(t, "REG", rate.ServiceCode)
	require.True(t, rate.WeightKg.Equal(decimal.RequireFromString("1.5")))
	require.True(t, rate.Price.Equal(decimal.RequireFromString("12000.46")))

	cases := map[string]Record{
		"short":         {"jne", "reg"},
		"nil":           nil,
		"missing route": {"jne", "reg", "", "BDG", "1", "1000", ""},
		"bad weight":    {"jne", "reg", "JKT", "BDG", "0", "1000", ""},
		"bad price":     {"jne", "reg", "JKT", "BDG", "1", "abc", ""},
		"negative":      {"jne", "reg", "JKT", "BDG", "1", "-5", ""},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecord(rec)
			require.ErrorIs(t, err, ErrMalformedRow)
		})
	}
}
