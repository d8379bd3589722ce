package dispatch_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/stepd/internal/dispatch"
	"github.com/san-kum/stepd/internal/unit"
)

func parse(raw string) *dispatch.Request {
	req, err := dispatch.ParseRequest(json.RawMessage(raw))
	Expect(err).NotTo(HaveOccurred())
	return req
}

// records decodes the JSON log lines written to buf.
func records(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		Expect(json.Unmarshal(sc.Bytes(), &rec)).To(Succeed())
		out = append(out, rec)
	}
	return out
}

var _ = Describe("Dispatcher", func() {
	var (
		reg    *unit.Registry
		d      *dispatch.Dispatcher
		events []any
		emit   dispatch.EmitFunc
		leaked unit.Emit
	)

	BeforeEach(func() {
		reg = unit.NewRegistry()
		reg.MustRegister("adder", func() unit.Unit { return adder{} })
		reg.MustRegister("counter", func() unit.Unit { return counter{} })
		reg.MustRegister("mutator", func() unit.Unit { return mutator{} })
		reg.MustRegister("leaky", func() unit.Unit { return leaky{emit: &leaked} })
		reg.MustRegister("broken", func() unit.Unit { return brokenDefaults{} })
		reg.MustRegister("declines", func() unit.Unit { return declines{} })
		reg.MustRegister("rejects", func() unit.Unit { return rejects{} })
		reg.MustRegister("explodes", func() unit.Unit { return explodes{} })

		d = dispatch.New(reg, dispatch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		events = nil
		emit = func(data any) { events = append(events, data) }
	})

	Describe("mode selection", func() {
		It("prefers the test marker over everything else", func() {
			out := d.Dispatch(parse(`{"script":"counter","fixed_params":{"test":true},"variable_params":[{}]}`), emit)
			Expect(out.Mode).To(Equal(dispatch.ModeTest))
		})

		It("ignores a falsy test marker", func() {
			out := d.Dispatch(parse(`{"script":"adder","fixed_params":{"test":0,"a":1,"b":1}}`), emit)
			Expect(out.Mode).To(Equal(dispatch.ModeRun))
		})

		It("streams dynamics for steppers without variable params", func() {
			out := d.Dispatch(parse(`{"script":"counter.py","fixed_params":{}}`), emit)
			Expect(out.Mode).To(Equal(dispatch.ModeDynamics))
		})

		It("runs steppers in a sweep when variable params are present", func() {
			out := d.Dispatch(parse(`{"script":"counter","fixed_params":{},"variable_params":[{"a":1}]}`), emit)
			Expect(out.Mode).To(Equal(dispatch.ModeSweep))
		})

		It("treats a null variable_params as absent", func() {
			out := d.Dispatch(parse(`{"script":"adder","fixed_params":{},"variable_params":null}`), emit)
			Expect(out.Mode).To(Equal(dispatch.ModeRun))
		})
	})

	Describe("test mode", func() {
		It("reports defaults, the first step and the run result", func() {
			out := d.Dispatch(parse(`{"script":"counter","fixed_params":{"test":true}}`), emit)

			Expect(out.Err).NotTo(HaveOccurred())
			Expect(events).To(BeEmpty())
			data := out.Data.(map[string]any)
			Expect(data["input_params"]).To(Equal(map[string]any{"a": 1.0, "b": 2.0}))
			Expect(data["result_params"]).To(Equal(map[string]any{"sum": 3.0}))
			Expect(data["dynamics_params"]).To(HaveKeyWithValue("absent", true))
			Expect(data["dynamics_params"]).To(HaveKeyWithValue("x", []any{0.0}))
		})

		It("returns empty dynamics params for units without step", func() {
			out := d.Dispatch(parse(`{"script":"adder","fixed_params":{"test":1}}`), emit)
			Expect(out.Data).To(HaveKeyWithValue("dynamics_params", map[string]any{}))
		})

		It("returns empty dynamics params when the first step declines", func() {
			out := d.Dispatch(parse(`{"script":"declines","fixed_params":{"test":1}}`), emit)
			Expect(out.Data).To(HaveKeyWithValue("dynamics_params", map[string]any{}))
		})

		It("converts a panicking defaults into an error result", func() {
			out := d.Dispatch(parse(`{"script":"broken","fixed_params":{"test":true}}`), emit)
			Expect(out.Failed()).To(BeTrue())
			Expect(out.Data).To(HaveKeyWithValue("error", ContainSubstring("no defaults")))
		})

		Context("when introspection fails", func() {
			var logs *bytes.Buffer

			BeforeEach(func() {
				logs = &bytes.Buffer{}
				d = dispatch.New(reg, dispatch.WithLogger(slog.New(slog.NewJSONHandler(logs, nil))))
			})

			expectFailureLogged := func(msg string) {
				recs := records(logs)
				Expect(recs).To(HaveLen(1))
				Expect(recs[0]).To(HaveKeyWithValue("level", "ERROR"))
				Expect(recs[0]).To(HaveKeyWithValue("msg", "introspection failed"))
				Expect(recs[0]).To(HaveKeyWithValue("error", msg))
				Expect(recs[0]).To(HaveKeyWithValue("mode", "test"))
			}

			It("reports only the error and logs it when run fails", func() {
				out := d.Dispatch(parse(`{"script":"rejects","fixed_params":{"test":true}}`), emit)

				Expect(out.Data).To(Equal(map[string]any{"error": "rejects: run: b must be non-negative"}))
				Expect(out.Results).To(BeZero())
				Expect(events).To(BeEmpty())
				expectFailureLogged("rejects: run: b must be non-negative")
			})

			It("reports only the error and logs it when step panics", func() {
				out := d.Dispatch(parse(`{"script":"explodes","fixed_params":{"test":true}}`), emit)

				Expect(out.Data).To(Equal(map[string]any{"error": "explodes: step panicked: step exploded"}))
				Expect(out.Err).To(HaveOccurred())
				Expect(events).To(BeEmpty())
				expectFailureLogged("explodes: step panicked: step exploded")
			})
		})

		It("does not let run mutate the reported defaults", func() {
			out := d.Dispatch(parse(`{"script":"mutator","fixed_params":{"test":true}}`), emit)
			Expect(out.Data).To(HaveKeyWithValue("input_params", map[string]any{"k": 1.0}))
		})
	})

	Describe("dynamics mode", func() {
		It("emits target_steps+1 events in order and an empty result", func() {
			out := d.Dispatch(parse(`{"script":"counter","fixed_params":{"target_steps":4}}`), emit)

			Expect(out.Err).NotTo(HaveOccurred())
			Expect(out.Data).To(Equal(map[string]any{}))
			Expect(out.Events).To(Equal(5))
			Expect(events).To(HaveLen(5))
			for i, ev := range events {
				Expect(ev).To(HaveKeyWithValue("t", i))
				Expect(ev).To(HaveKeyWithValue("last", i-1))
				Expect(ev).To(HaveKeyWithValue("absent", i == 0))
				Expect(ev).To(HaveKeyWithValue("x", []any{float64(i)}))
			}
		})

		DescribeTable("defaults falsy or invalid bounds to one step",
			func(target string) {
				d.Dispatch(parse(`{"script":"counter","fixed_params":{"target_steps":`+target+`}}`), emit)
				Expect(events).To(HaveLen(2))
			},
			Entry("absent", `null`),
			Entry("zero", `0`),
			Entry("negative", `-5`),
			Entry("false", `false`),
			Entry("non-numeric", `"many"`),
		)

		It("accepts numeric strings", func() {
			d.Dispatch(parse(`{"script":"counter","fixed_params":{"target_steps":"3"}}`), emit)
			Expect(events).To(HaveLen(4))
		})

		It("stops without emitting when step returns false", func() {
			out := d.Dispatch(parse(`{"script":"counter","fixed_params":{"target_steps":10,"stop_at":3}}`), emit)
			Expect(out.Err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(3))
			Expect(out.Data).To(Equal(map[string]any{}))
		})

		It("keeps emitted events and fails the job when a step errors", func() {
			out := d.Dispatch(parse(`{"script":"counter","fixed_params":{"target_steps":10,"fail_at":2}}`), emit)
			Expect(events).To(HaveLen(2))
			Expect(out.Events).To(Equal(2))
			Expect(out.Data).To(Equal(map[string]any{"error": "counter: step: diverged"}))
		})

		It("never mutates fixed params", func() {
			req := parse(`{"script":"mutator","fixed_params":{"k":1,"target_steps":2}}`)
			d.Dispatch(req, emit)
			Expect(req.FixedParams).To(HaveKeyWithValue("k", 1.0))
		})

		It("hands every step a fresh copy of the fixed params", func() {
			out := d.Dispatch(parse(`{"script":"mutator","fixed_params":{"k":1,"target_steps":3}}`), emit)

			Expect(out.Err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(4))
			for _, ev := range events {
				Expect(ev).To(HaveKeyWithValue("seen", 1.0))
			}
		})
	})

	Describe("run mode", func() {
		It("streams emitted states and returns the normalized result", func() {
			out := d.Dispatch(parse(`{"script":"adder","fixed_params":{"a":2,"b":3,"emits":2}}`), emit)

			Expect(out.Data).To(Equal(map[string]any{"sum": 5.0}))
			Expect(out.Events).To(Equal(2))
			Expect(events).To(Equal([]any{
				map[string]any{"i": 0, "partial": []any{2.0, 0.0}},
				map[string]any{"i": 1, "partial": []any{2.0, 1.0}},
			}))
		})

		It("converts run errors and panics into error results", func() {
			out := d.Dispatch(parse(`{"script":"adder","fixed_params":{"a":1,"b":-1}}`), emit)
			Expect(out.Data).To(Equal(map[string]any{"error": "adder: run: b must be non-negative"}))

			out = d.Dispatch(parse(`{"script":"adder","fixed_params":{"a":1,"b":13}}`), emit)
			Expect(out.Failed()).To(BeTrue())
			Expect(out.Data).To(HaveKeyWithValue("error", ContainSubstring("unlucky")))
		})

		It("drops states emitted after run returned", func() {
			out := d.Dispatch(parse(`{"script":"leaky","fixed_params":{}}`), emit)
			Expect(out.Err).NotTo(HaveOccurred())
			Expect(leaked).NotTo(BeNil())

			leaked(unit.State{"late": true})
			Expect(events).To(BeEmpty())
		})

		It("does not mutate nested fixed params", func() {
			req := parse(`{"script":"mutator","fixed_params":{"k":1,"nested":{"deep":1}}}`)
			d.Dispatch(req, emit)
			Expect(req.FixedParams["nested"]).To(HaveKeyWithValue("deep", 1.0))
			Expect(req.FixedParams).To(HaveKeyWithValue("k", 1.0))
		})
	})

	Describe("sweep mode", func() {
		It("merges fixed and variable params in order", func() {
			out := d.Dispatch(parse(`{"script":"adder.py","fixed_params":{"a":1},"variable_params":[{"b":2},{"b":3}]}`), emit)

			Expect(out.Data).To(Equal([]any{map[string]any{"sum": 3.0}, map[string]any{"sum": 4.0}}))
			Expect(out.Results).To(Equal(2))
			Expect(events).To(BeEmpty())
		})

		It("lets variable params win on collisions", func() {
			out := d.Dispatch(parse(`{"script":"adder","fixed_params":{"a":1,"b":1},"variable_params":[{"a":10}]}`), emit)
			Expect(out.Data).To(Equal([]any{map[string]any{"sum": 11.0}}))
		})

		It("isolates failing entries", func() {
			out := d.Dispatch(parse(`{"script":"adder","fixed_params":{"a":1},"variable_params":[{"b":1},{"b":-1},{"b":13},{"b":2}]}`), emit)

			results := out.Data.([]any)
			Expect(results).To(HaveLen(4))
			Expect(results[0]).To(Equal(map[string]any{"sum": 2.0}))
			Expect(results[1]).To(HaveKey("error"))
			Expect(results[2]).To(HaveKeyWithValue("error", ContainSubstring("unlucky")))
			Expect(results[3]).To(Equal(map[string]any{"sum": 3.0}))
			Expect(out.Failures).To(Equal(2))
			Expect(out.Err).To(HaveOccurred())
			Expect(out.Failed()).To(BeFalse())
		})

		It("returns an empty list for an empty sweep", func() {
			out := d.Dispatch(parse(`{"script":"adder","fixed_params":{},"variable_params":[]}`), emit)
			Expect(out.Mode).To(Equal(dispatch.ModeSweep))
			Expect(out.Data).To(Equal([]any{}))
		})

		It("does not leak one entry's mutations into the next", func() {
			req := parse(`{"script":"mutator","fixed_params":{"k":1},"variable_params":[{},{}]}`)
			d.Dispatch(req, emit)
			Expect(req.FixedParams).To(HaveKeyWithValue("k", 1.0))
			Expect(req.VariableParams).To(Equal([]unit.Params{{}, {}}))
		})
	})

	Describe("load failures", func() {
		It("surfaces unknown units as error results", func() {
			out := d.Dispatch(parse(`{"script":"nope.py","fixed_params":{}}`), emit)

			Expect(out.Mode).To(Equal(dispatch.ModeNone))
			Expect(out.Failed()).To(BeTrue())
			Expect(errors.Is(out.Err, unit.ErrUnknownUnit)).To(BeTrue())
			Expect(out.Data).To(HaveKeyWithValue("error", ContainSubstring(`no unit named "nope"`)))
		})
	})
})

var _ = Describe("ParseRequest", func() {
	DescribeTable("rejects malformed payloads",
		func(raw string) {
			_, err := dispatch.ParseRequest(json.RawMessage(raw))
			Expect(err).To(MatchError(dispatch.ErrMalformed))
		},
		Entry("empty", ``),
		Entry("null", `null`),
		Entry("not an object", `[1,2]`),
		Entry("missing script", `{"fixed_params":{}}`),
		Entry("missing fixed params", `{"script":"adder"}`),
		Entry("bad variable params", `{"script":"adder","fixed_params":{},"variable_params":[1]}`),
	)

	It("distinguishes absent from empty variable params", func() {
		Expect(parse(`{"script":"a","fixed_params":{}}`).IsSweep()).To(BeFalse())
		Expect(parse(`{"script":"a","fixed_params":{},"variable_params":[]}`).IsSweep()).To(BeTrue())
	})
})

var _ = Describe("Mode", func() {
	It("names every mode", func() {
		Expect(dispatch.ModeTest.String()).To(Equal("test"))
		Expect(dispatch.ModeDynamics.String()).To(Equal("dynamics"))
		Expect(dispatch.ModeRun.String()).To(Equal("run"))
		Expect(dispatch.ModeSweep.String()).To(Equal("sweep"))
		Expect(dispatch.ModeNone.String()).To(Equal("none"))
		Expect(dispatch.ModeRun.Streams()).To(BeTrue())
		Expect(dispatch.ModeSweep.Streams()).To(BeFalse())
	})
})
