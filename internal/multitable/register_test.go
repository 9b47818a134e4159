package multitable

import _ "refiner/internal/storage/all"
