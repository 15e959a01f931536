package snapshot

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sjperalta/cropcoef-api/internal/models"
)

var statuses = []string{
	models.ProposalStatusPending,
	models.ProposalStatusApproved,
	models.ProposalStatusRejected,
}

// multiplierGen favours the exact range bounds alongside arbitrary values.
func multiplierGen() gopter.Gen {
	return gen.Frequency(map[int]gopter.Gen{
		1: gen.Const(0.0),
		2: gen.Const(2.0),
		7: gen.Float64Range(0, 2),
	})
}

func buildFields(kc []float64, days []int, source, name string, status int) Fields {
	c := models.Coefficients{
		KcIni: kc[0], KcDev: kc[1], KcMid: kc[2], KcEnd: kc[3],
		LIni: days[0], LDev: days[1], LMid: days[2], LLate: days[3],
	}
	c.SeasonLength = c.TotalDuration()
	return Fields{
		Coefficients: c,
		Provenance:   models.Provenance{Source: source, SubmitterName: name},
		Status:       statuses[status],
	}
}

// Property: Decode(Encode(f)) == f for any valid coefficient set
func TestCodecRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode inverts encode", prop.ForAll(
		func(kc []float64, days []int, source, name string, status int) bool {
			f := buildFields(kc, days, source, name, status)
			s, err := EncodeFields(f)
			if err != nil {
				return false
			}
			back, err := Decode(s)
			if err != nil {
				return false
			}
			return back == f
		},
		gen.SliceOfN(4, multiplierGen()),
		gen.SliceOfN(4, gen.IntRange(0, 365)),
		gen.AnyString(),
		gen.AlphaString(),
		gen.IntRange(0, len(statuses)-1),
	))

	properties.TestingRun(t)
}

// Property: Encode(Decode(Encode(f))) == Encode(f), i.e. snapshots are stable
func TestCodecIsStable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("re-encoding is byte identical", prop.ForAll(
		func(kc []float64, days []int, source string, status int) bool {
			first, err := EncodeFields(buildFields(kc, days, source, source, status))
			if err != nil {
				return false
			}
			back, err := Decode(first)
			if err != nil {
				return false
			}
			second, err := EncodeFields(back)
			return err == nil && first == second
		},
		gen.SliceOfN(4, multiplierGen()),
		gen.SliceOfN(4, gen.IntRange(0, 365)),
		gen.AlphaString(),
		gen.IntRange(0, len(statuses)-1),
	))

	properties.TestingRun(t)
}
