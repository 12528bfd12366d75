package scanning

import (
	"context"
	"errors"
	"os"
	"os/exec"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/price-tracker/internal/common"
)

type mockRunner struct {
	stdout   []byte
	err      error
	name     string
	args     []string
	fileSeen []byte
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	m.name = name
	m.args = args
	if len(args) > 0 {
		m.fileSeen, _ = os.ReadFile(args[0])
	}
	return m.stdout, nil, m.err
}

var _ = Describe("Tesseract", func() {
	var (
		runner *mockRunner
		config OCRConfig
		lines  []string
		err    error
	)

	BeforeEach(func() {
		runner = &mockRunner{stdout: []byte("BILLA AG\n\n  MILCH 1,29 \nSUMME 1,29\n")}
		config = OCRConfig{Languages: []string{"de", "en"}, Accuracy: AccuracyAccurate}
	})

	JustBeforeEach(func() {
		t := NewTesseractWithRunner("", config, runner)
		lines, err = t.Recognize(context.Background(), []byte("\x89PNG\r\n\x1a\nfake"), "image/png")
	})

	It("returns trimmed non-empty lines in order", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(Equal([]string{"BILLA AG", "MILCH 1,29", "SUMME 1,29"}))
	})

	It("passes languages and accuracy to tesseract", func() {
		Expect(runner.name).To(Equal("tesseract"))
		Expect(runner.args[1:]).To(Equal([]string{"stdout", "-l", "deu+eng", "--oem", "1", "--psm", "4", "-c", "preserve_interword_spaces=1"}))
	})

	It("hands the image to tesseract as a file", func() {
		Expect(runner.fileSeen).To(Equal([]byte("\x89PNG\r\n\x1a\nfake")))
	})

	When("fast mode is selected", func() {
		BeforeEach(func() {
			config.Accuracy = AccuracyFast
		})

		It("uses the uniform block layout", func() {
			Expect(runner.args).To(ContainElements("--psm", "6"))
		})
	})

	When("the binary is missing", func() {
		BeforeEach(func() {
			runner.err = &exec.Error{Name: "tesseract", Err: exec.ErrNotFound}
		})

		It("reports ServiceUnavailable", func() {
			Expect(errors.Is(err, common.ErrServiceUnavailable)).To(BeTrue())
		})
	})

	When("tesseract fails", func() {
		BeforeEach(func() {
			runner.err = errors.New("exit status 1")
		})

		It("reports an unknown error", func() {
			Expect(errors.Is(err, common.ErrUnknown)).To(BeTrue())
		})
	})
})

var _ = Describe("toPNG", func() {
	It("passes PNG data through", func() {
		data := []byte("\x89PNG\r\n\x1a\nrest")
		out, err := toPNG(data, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(data))
	})

	It("rejects undecodable images", func() {
		_, err := toPNG([]byte("not an image"), "image/jpeg")
		Expect(errors.Is(err, ErrUnsupportedImage)).To(BeTrue())
	})

	DescribeTable("rejects corrupt documents as unsupported",
		func(data []byte, contentType string) {
			_, err := toPNG(data, contentType)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, ErrUnsupportedImage)).To(BeTrue(), "got %v", err)
		},
		Entry("truncated PDF", []byte("%PDF-1.7\n1 0 obj"), "application/pdf"),
		Entry("HEIC brand without image data", []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00"), ""),
	)

	It("detects HEIC by brand", func() {
		Expect(isHEIC([]byte("\x00\x00\x00\x18ftypheic...."), "")).To(BeTrue())
		Expect(isHEIC([]byte("\x00\x00\x00\x18ftypisom...."), "video/mp4")).To(BeFalse())
		Expect(isHEIC(nil, "image/heif")).To(BeTrue())
	})
})
