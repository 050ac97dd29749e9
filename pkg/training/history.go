package training

import "fmt"

// Scores holds named evaluation metrics, at least "accuracy" and "f1".
type Scores map[string]float64

// Phase is the outcome of one training or validation pass.
type Phase struct {
	Accuracy float64
	Loss     float64
	Scores   Scores
}

// History is the per-epoch metric record persisted as train_stats.json.
// All six lists have one entry per completed epoch.
type History struct {
	TrainAcc  []float64 `json:"train_acc_list"`
	TrainLoss []float64 `json:"train_loss_list"`
	TrainF1   []Scores  `json:"train_f1_list"`
	ValAcc    []float64 `json:"val_acc_list"`
	ValLoss   []float64 `json:"val_loss_list"`
	ValF1     []Scores  `json:"val_f1_list"`
}

func (h *History) Len() int { return len(h.ValF1) }

// Append adds one epoch.
func (h *History) Append(train, val Phase) {
	h.TrainAcc = append(h.TrainAcc, train.Accuracy)
	h.TrainLoss = append(h.TrainLoss, train.Loss)
	h.TrainF1 = append(h.TrainF1, train.Scores)
	h.ValAcc = append(h.ValAcc, val.Accuracy)
	h.ValLoss = append(h.ValLoss, val.Loss)
	h.ValF1 = append(h.ValF1, val.Scores)
}

func (h *History) lengths() []int {
	return []int{len(h.TrainAcc), len(h.TrainLoss), len(h.TrainF1), len(h.ValAcc), len(h.ValLoss), len(h.ValF1)}
}

// validate checks that every list has the same length.
func (h *History) validate() error {
	lens := h.lengths()
	for _, n := range lens[1:] {
		if n != lens[0] {
			return fmt.Errorf("%w: history list lengths differ: %v", ErrCorruptCheckpoint, lens)
		}
	}
	return nil
}

// truncate drops epochs beyond n.
func (h *History) truncate(n int) {
	h.TrainAcc = h.TrainAcc[:n]
	h.TrainLoss = h.TrainLoss[:n]
	h.TrainF1 = h.TrainF1[:n]
	h.ValAcc = h.ValAcc[:n]
	h.ValLoss = h.ValLoss[:n]
	h.ValF1 = h.ValF1[:n]
}

// ShouldSave applies the improvement gate to the latest validation scores:
// accuracy must rise and f1 must not drop by margin or more. The previous
// epoch's scores count as zero when there is none.
func ShouldSave(h *History, margin float64) bool {
	n := len(h.ValF1)
	if n == 0 {
		return false
	}
	cur := h.ValF1[n-1]
	var prevAcc, prevF1 float64
	if n >= 2 {
		prevAcc = h.ValF1[n-2]["accuracy"]
		prevF1 = h.ValF1[n-2]["f1"]
	}
	return prevAcc < cur["accuracy"] && cur["f1"]-prevF1 > margin
}
