// Package questionnaire works out which required fields an action is still
// missing, phrases a question for each, and folds free-text answers back into
// the slot record.
//
// Questions carry a deterministic id of the form "<ACTION>.<field>", so a
// client can answer by id alone. Answers are stored as trimmed strings; typing
// them is left to the intent builder, which re-asks any field it cannot read.
package questionnaire
