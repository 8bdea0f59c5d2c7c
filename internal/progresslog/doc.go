// Copyright (c) 2020 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package progresslog provides periodic logging for the service node bootstrap
sync.

Tests are included to ensure proper functionality.

## Feature Overview

- Maintains cumulative totals about received sync items between each logging
  interval
  - Total number of service node registry entries
  - Total number of payment votes
- Logs all cumulative data every 10 seconds
- Immediately logs any outstanding data when forced, such as when a sync stage
  completes
*/
package progresslog
