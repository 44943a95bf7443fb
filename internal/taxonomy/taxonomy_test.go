package taxonomy

import "testing"

func TestMetadataForKnownKinds(t *testing.T) {
	cases := []struct {
		kind       Kind
		httpStatus int
		retryable  bool
	}{
		{TaskNotFound, 404, false},
		{ExecutionTimeout, 408, true},
		{StorageConnectionFailed, 503, true},
		{ValidationErrorKind, 400, false},
	}
	for _, c := range cases {
		m := MetadataFor(c.kind)
		if m.HTTPStatus != c.httpStatus {
			t.Errorf("%s: expected status %d, got %d", c.kind, c.httpStatus, m.HTTPStatus)
		}
		if m.Retryable != c.retryable {
			t.Errorf("%s: expected retryable=%v, got %v", c.kind, c.retryable, m.Retryable)
		}
	}
}

func TestRetryableAndKindOf(t *testing.T) {
	err := New(ExecutionTimeout, "deadline exceeded")
	if !Retryable(err) {
		t.Fatal("expected ExecutionTimeout to be retryable")
	}
	if KindOf(err) != ExecutionTimeout {
		t.Fatalf("expected kind %s, got %s", ExecutionTimeout, KindOf(err))
	}
	if HTTPStatus(err) != 408 {
		t.Fatalf("expected 408, got %d", HTTPStatus(err))
	}
}

func TestRetryableFalseForNonTaxonomyError(t *testing.T) {
	if Retryable(errPlain("boom")) {
		t.Fatal("expected plain errors to be non-retryable")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
