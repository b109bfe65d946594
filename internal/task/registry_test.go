package task

import "testing"

func TestRegistry_AddTaskDuplicate(t *testing.T) {
	r := NewRegistry()
	tk := New("t", TypeAnalysis, PriorityLow)

	if err := r.AddTask(tk); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := r.AddTask(tk); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestRegistry_ParentChildLinks(t *testing.T) {
	r := NewRegistry()
	parent := New("parent", TypeImplementation, PriorityMedium)
	r.AddTask(parent)

	child := New("child", TypeTesting, PriorityLow)
	child.ParentID = parent.ID
	r.AddTask(child)

	if len(parent.Children) != 1 || parent.Children[0] != child.ID {
		t.Errorf("parent.Children = %v, want [%s]", parent.Children, child.ID)
	}
}

func TestRegistry_AgentsByTier(t *testing.T) {
	r := NewRegistry()
	r.AddAgent(NewAgent(TierQuick, 1))
	r.AddAgent(NewAgent(TierStandard, 2))
	adv := NewAgent(TierAdvanced, 3)
	r.AddAgent(adv)

	if got := r.AgentsByTier(TierAdvanced); len(got) != 1 || got[0].ID != adv.ID {
		t.Errorf("AgentsByTier(advanced) = %v, want [%s]", got, adv.ID)
	}
	if r.AgentCount() != 3 {
		t.Errorf("AgentCount = %d, want 3", r.AgentCount())
	}

	r.RemoveAgent(adv.ID)
	if r.AgentCount() != 2 {
		t.Errorf("AgentCount after remove = %d, want 2", r.AgentCount())
	}
}
