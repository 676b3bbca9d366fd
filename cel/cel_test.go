package cel

import "testing"

func TestEvaluator_MatchesSummaryMap(t *testing.T) {
	e, err := NewEvaluator("sess.node == 'n2' && sess.elapsedMs > 1000")
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	ok, err := e.Evaluate(map[string]any{"node": "n2", "elapsedMs": int64(5000)})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !ok {
		t.Errorf("matching summary evaluated false")
	}

	ok, err = e.Evaluate(map[string]any{"node": "n1", "elapsedMs": int64(5000)})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if ok {
		t.Errorf("non-matching summary evaluated true")
	}
}

func TestEvaluator_RejectsEmptyOrBrokenExpression(t *testing.T) {
	if _, err := NewEvaluator(""); err == nil {
		t.Errorf("empty expression accepted")
	}
	if _, err := NewEvaluator("sess.node =="); err == nil {
		t.Errorf("broken expression accepted")
	}
}

func TestEvaluator_NonBoolResult(t *testing.T) {
	e, err := NewEvaluator("sess.elapsedMs")
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	if _, err := e.Evaluate(map[string]any{"elapsedMs": int64(1)}); err == nil {
		t.Errorf("non-bool result did not error")
	}
}
