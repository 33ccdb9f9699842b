package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// RandomForest votes over independently grown decision trees.
type RandomForest struct {
	trees     []*DecisionTree
	nFeatures int
}

func NewRandomForest(trees []*DecisionTree) (*RandomForest, error) {
	if len(trees) == 0 {
		return nil, ErrNotTrained
	}
	width := trees[0].NumFeatures()
	for i, tree := range trees {
		if tree.NumFeatures() != width {
			return nil, fmt.Errorf("%w: tree %d expects %d features, tree 0 expects %d", ErrFeatureMismatch, i, tree.NumFeatures(), width)
		}
	}
	return &RandomForest{trees: trees, nFeatures: width}, nil
}

// Train grows nTrees trees on bootstrap samples drawn from a fixed seed, so
// the same data and seed always give the same forest.
func (rf *RandomForest) Train(features [][]float64, labels []int, nTrees, maxDepth int, seed int64) error {
	if len(features) == 0 || len(features) != len(labels) {
		return errors.New("features and labels must be non-empty and aligned")
	}
	if nTrees <= 0 {
		nTrees = 10
	}
	rnd := rand.New(rand.NewSource(seed))
	trees := make([]*DecisionTree, 0, nTrees)
	for t := 0; t < nTrees; t++ {
		sampleX := make([][]float64, len(features))
		sampleY := make([]int, len(labels))
		for i := range features {
			j := rnd.Intn(len(features))
			sampleX[i] = features[j]
			sampleY[i] = labels[j]
		}
		tree := &DecisionTree{}
		if err := tree.Train(sampleX, sampleY, maxDepth); err != nil {
			return fmt.Errorf("train tree %d: %w", t, err)
		}
		trees = append(trees, tree)
	}
	rf.trees = trees
	rf.nFeatures = len(features[0])
	return nil
}

// Predict returns the majority class; ties go to the smaller class id.
func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	if len(rf.trees) == 0 {
		return 0, 0, ErrNotTrained
	}
	if len(features) != rf.nFeatures {
		return 0, 0, fmt.Errorf("%w: got %d, want %d", ErrFeatureMismatch, len(features), rf.nFeatures)
	}
	votes := make(map[int]int)
	for _, tree := range rf.trees {
		label, _, err := tree.Predict(features)
		if err != nil {
			return 0, 0, err
		}
		votes[label]++
	}
	best, bestVotes := 0, -1
	for label, n := range votes {
		if n > bestVotes || (n == bestVotes && label < best) {
			best, bestVotes = label, n
		}
	}
	return best, float64(bestVotes) / float64(len(rf.trees)), nil
}

func (rf *RandomForest) NumFeatures() int {
	return rf.nFeatures
}

func (rf *RandomForest) ClassIDs() []int {
	seen := make(map[int]struct{})
	for _, tree := range rf.trees {
		for _, id := range tree.ClassIDs() {
			seen[id] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (rf *RandomForest) Save(path string) error {
	if len(rf.trees) == 0 {
		return ErrNotTrained
	}
	file := modelFile{Type: TypeRandomForest, NFeatures: rf.nFeatures}
	for _, tree := range rf.trees {
		file.Trees = append(file.Trees, tree.nodes)
	}
	return writeModelFile(path, file)
}

func (rf *RandomForest) Load(path string) error {
	file, err := readModelFile(path)
	if err != nil {
		return err
	}
	if file.Type != TypeRandomForest {
		return fmt.Errorf("model file %s holds %q, not %q", path, file.Type, TypeRandomForest)
	}
	forest, err := forestFromFile(file)
	if err != nil {
		return err
	}
	*rf = *forest
	return nil
}

func forestFromFile(file modelFile) (*RandomForest, error) {
	trees := make([]*DecisionTree, 0, len(file.Trees))
	for i, nodes := range file.Trees {
		tree, err := NewDecisionTree(nodes, file.NFeatures)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		trees = append(trees, tree)
	}
	return NewRandomForest(trees)
}
