// Package magetasks provides organized build tasks for the covgate project.
//
// This package contains the build, test, lint and quality tasks used by the
// Magefile. Commands run through mage's sh helpers so that `mage -v` echoes
// them.
package magetasks
