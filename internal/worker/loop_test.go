package worker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/stepd/internal/dispatch"
	"github.com/san-kum/stepd/internal/unit"
	"github.com/san-kum/stepd/internal/worker"
)

type sum struct{}

func (sum) Defaults() unit.Params { return unit.Params{"a": 1.0, "b": 1.0} }

func (sum) Run(p unit.Params, emit unit.Emit) (unit.State, error) {
	a, _ := p.Float("a", 0)
	b, _ := p.Float("b", 0)
	if a < 0 {
		return nil, errors.New("negative input")
	}
	if p.Truthy("nan") {
		return unit.State{"sum": math.NaN()}, nil
	}
	if p.Truthy("stream") {
		emit(unit.State{"partial": []float64{a}})
		emit(unit.State{"bad": math.Inf(1)})
		emit(unit.State{"partial": []float64{a, b}})
	}
	return unit.State{"sum": a + b}, nil
}

type ticker struct{ sum }

func (ticker) Step(p unit.Params, _ unit.Previous, t int) (unit.State, bool, error) {
	return unit.State{"t": t}, true, nil
}

type recorder struct {
	started  []worker.Job
	events   int
	finished []dispatch.Outcome
	fail     bool
}

func (r *recorder) JobStarted(_ context.Context, job worker.Job) error {
	r.started = append(r.started, job)
	if r.fail {
		return errors.New("observer down")
	}
	return nil
}

func (r *recorder) Dynamics(context.Context, worker.Job, any) error {
	r.events++
	return nil
}

func (r *recorder) JobFinished(_ context.Context, _ worker.Job, out dispatch.Outcome, _ time.Duration) error {
	r.finished = append(r.finished, out)
	return nil
}

type frame struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"request_id"`
	Data      any             `json:"data"`
}

func frames(out string) []frame {
	var fs []frame
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		var f frame
		Expect(json.Unmarshal([]byte(line), &f)).To(Succeed(), line)
		fs = append(fs, f)
	}
	return fs
}

var _ = Describe("Loop", func() {
	var (
		loop *worker.Loop
		rec  *recorder
		out  bytes.Buffer
		ids  int
	)

	serve := func(input string) []frame {
		out.Reset()
		Expect(loop.Serve(context.Background(), strings.NewReader(input), &out)).To(Succeed())
		return frames(out.String())
	}

	BeforeEach(func() {
		reg := unit.NewRegistry()
		reg.MustRegister("sum", func() unit.Unit { return sum{} })
		reg.MustRegister("ticker", func() unit.Unit { return ticker{} })

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		rec = &recorder{}
		ids = 0
		loop = worker.New(
			dispatch.New(reg, dispatch.WithLogger(logger)),
			worker.WithLogger(logger),
			worker.WithObserver(rec),
			worker.WithIDGenerator(func() string { ids++; return "job-" + string(rune('0'+ids)) }),
		)
	})

	It("answers the sweep example with results in order", func() {
		fs := serve(`{"type":"job","request":{"script":"sum.py","fixed_params":{"a":1},"variable_params":[{"b":2},{"b":3}]}}` + "\n")

		Expect(fs).To(HaveLen(1))
		Expect(fs[0].Type).To(Equal("result"))
		Expect(fs[0].Data).To(Equal([]any{map[string]any{"sum": 3.0}, map[string]any{"sum": 4.0}}))
	})

	It("writes dynamics events before the single result", func() {
		fs := serve(`{"type":"job","request":{"script":"ticker","fixed_params":{"target_steps":3}}}` + "\n")

		Expect(fs).To(HaveLen(5))
		for i := 0; i < 4; i++ {
			Expect(fs[i].Type).To(Equal("dynamics"))
			Expect(fs[i].Data).To(Equal(map[string]any{"t": float64(i)}))
		}
		Expect(fs[4].Type).To(Equal("result"))
		Expect(fs[4].Data).To(Equal(map[string]any{}))
		Expect(rec.events).To(Equal(4))
	})

	It("processes jobs strictly in sequence", func() {
		input := `{"type":"job","request":{"script":"ticker","fixed_params":{"target_steps":1}}}` + "\n" +
			`{"type":"job","request":{"script":"sum","fixed_params":{"a":2,"b":2}}}` + "\n"
		fs := serve(input)

		types := make([]string, len(fs))
		for i, f := range fs {
			types[i] = f.Type
		}
		Expect(types).To(Equal([]string{"dynamics", "dynamics", "result", "result"}))
		Expect(fs[3].Data).To(Equal(map[string]any{"sum": 4.0}))
	})

	It("skips malformed lines and non-job messages and keeps going", func() {
		input := "not json\n" +
			"\n" +
			`{"type":"ping"}` + "\n" +
			`{"type":"result","data":{}}` + "\n" +
			`{"type":"job","request":{"script":"sum","fixed_params":{"a":1,"b":1}}}`
		fs := serve(input)

		Expect(fs).To(HaveLen(1))
		Expect(fs[0].Data).To(Equal(map[string]any{"sum": 2.0}))
	})

	It("fails job messages with a bad request without stopping", func() {
		input := `{"type":"job"}` + "\n" +
			`{"type":"job","request":{"fixed_params":{}}}` + "\n" +
			`{"type":"job","request":{"script":"missing","fixed_params":{}}}` + "\n" +
			`{"type":"job","request":{"script":"sum","fixed_params":{"a":-1}}}` + "\n" +
			`{"type":"job","request":{"script":"sum","fixed_params":{"a":5,"b":1}}}` + "\n"
		fs := serve(input)

		Expect(fs).To(HaveLen(5))
		for _, f := range fs[:4] {
			Expect(f.Type).To(Equal("result"))
			Expect(f.Data).To(HaveKeyWithValue("error", Not(BeEmpty())))
		}
		Expect(fs[4].Data).To(Equal(map[string]any{"sum": 6.0}))
		Expect(rec.started).To(HaveLen(5))
		Expect(rec.finished).To(HaveLen(5))
	})

	It("echoes request ids on every frame of a job", func() {
		input := `{"type":"job","request_id":"abc","request":{"script":"ticker","fixed_params":{}}}` + "\n" +
			`{"type":"job","request_id":7,"request":{"script":"sum","fixed_params":{}}}` + "\n" +
			`{"type":"job","request":{"script":"sum","fixed_params":{}}}` + "\n"
		fs := serve(input)

		Expect(fs).To(HaveLen(5))
		for _, f := range fs[:3] {
			Expect(string(f.RequestID)).To(Equal(`"abc"`))
		}
		Expect(string(fs[3].RequestID)).To(Equal(`7`))
		Expect(fs[4].RequestID).To(BeEmpty())
		Expect(out.String()).NotTo(ContainSubstring(`"request_id":null`))
	})

	It("replaces an unencodable result with an error result", func() {
		fs := serve(`{"type":"job","request":{"script":"sum","fixed_params":{"nan":true}}}` + "\n")

		Expect(fs).To(HaveLen(1))
		Expect(fs[0].Data).To(HaveKeyWithValue("error", ContainSubstring("encode result")))
		Expect(rec.finished[0].Failed()).To(BeTrue())
	})

	It("drops unencodable dynamics events but keeps the rest", func() {
		fs := serve(`{"type":"job","request":{"script":"sum","fixed_params":{"a":1,"b":2,"stream":true}}}` + "\n")

		Expect(fs).To(HaveLen(3))
		Expect(fs[0].Data).To(Equal(map[string]any{"partial": []any{1.0}}))
		Expect(fs[1].Data).To(Equal(map[string]any{"partial": []any{1.0, 2.0}}))
		Expect(fs[2].Type).To(Equal("result"))
	})

	It("tolerates failing observers", func() {
		rec.fail = true
		fs := serve(`{"type":"job","request":{"script":"sum","fixed_params":{}}}` + "\n")
		Expect(fs).To(HaveLen(1))
		Expect(fs[0].Data).To(Equal(map[string]any{"sum": 2.0}))
	})

	It("assigns a job id to every job", func() {
		serve(`{"type":"job","request":{"script":"sum","fixed_params":{}}}` + "\n" + `{"type":"job","request":{"script":"sum","fixed_params":{}}}` + "\n")
		Expect(rec.started).To(HaveLen(2))
		Expect(rec.started[0].ID).To(Equal("job-1"))
		Expect(rec.started[1].ID).To(Equal("job-2"))
		Expect(rec.started[1].Script).To(Equal("sum"))
	})

	It("returns at end of input without output", func() {
		Expect(serve("")).To(BeEmpty())
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := loop.Serve(ctx, strings.NewReader(`{"type":"job","request":{"script":"sum","fixed_params":{}}}`+"\n"), &out)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("returns when cancelled while waiting for input", func() {
		ctx, cancel := context.WithCancel(context.Background())
		pr, pw := io.Pipe()
		defer pw.Close()

		done := make(chan error, 1)
		go func() { done <- loop.Serve(ctx, pr, &out) }()

		Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})

	It("answers a job received before cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pr, pw := io.Pipe()
		defer pw.Close()
		sink := &lockedBuffer{}

		done := make(chan error, 1)
		go func() { done <- loop.Serve(ctx, pr, sink) }()

		_, err := pw.Write([]byte(`{"type":"job","request":{"script":"sum","fixed_params":{"a":2,"b":3}}}` + "\n"))
		Expect(err).NotTo(HaveOccurred())
		Eventually(sink.String).Should(ContainSubstring(`"type":"result"`))

		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
		fs := frames(sink.String())
		Expect(fs).To(HaveLen(1))
		Expect(fs[0].Data).To(Equal(map[string]any{"sum": 5.0}))
	})

	It("reports output failures", func() {
		err := loop.Serve(context.Background(), strings.NewReader(`{"type":"job","request":{"script":"sum","fixed_params":{}}}`+"\n"), failingWriter{})
		Expect(err).To(HaveOccurred())
	})
})

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
